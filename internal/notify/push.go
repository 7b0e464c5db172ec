package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/roadside-dispatch/internal/models"
)

// PushNotifier posts request announcements to a provider-app push gateway.
// Used when a provider has no live websocket, or as the only channel in
// deployments without one.
type PushNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushNotifier(endpoint, key string) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushNotifier) RequestCreated(providerID string, req models.ServiceRequest) error {
	body := map[string]any{"provider_id": providerID, "event": "request_created", "request": req}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Fanout tries each notifier in order until one delivers.
type Fanout []interface {
	RequestCreated(providerID string, req models.ServiceRequest) error
}

func (f Fanout) RequestCreated(providerID string, req models.ServiceRequest) error {
	var err error
	for _, n := range f {
		if err = n.RequestCreated(providerID, req); err == nil {
			return nil
		}
	}
	return err
}
