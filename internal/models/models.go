package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location pairs a coordinate with the free-text address a customer typed in.
type Location struct {
	Coord   Coord  `json:"coord"`
	Address string `json:"address"`
}

type VehicleInfo struct {
	Make      string `json:"make"`
	Model     string `json:"model"`
	RegNumber string `json:"reg_number"`
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

// Actor is what the identity layer hands us per call: a stable id plus role.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusAccepted  RequestStatus = "ACCEPTED"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transition can leave the status.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ServiceRequest is a stranded customer's call for help. ProviderID stays
// empty until a provider claims the request. Version backs optimistic
// concurrency: every successful transition increments it, and a write only
// lands if it targets the version the writer last read.
type ServiceRequest struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customer_id"`
	ProviderID  string        `json:"provider_id,omitempty"`
	Location    Location      `json:"location"`
	VehicleInfo VehicleInfo   `json:"vehicle_info"`
	Description string        `json:"description,omitempty"`
	ServiceType string        `json:"service_type,omitempty"`
	Status      RequestStatus `json:"status"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Provider is a vendor's live presence: where they are, whether they are
// taking work, and which service types they offer. Each provider mutates only
// its own record; the dispatch core reads but never writes them.
type Provider struct {
	ID           string    `json:"id"`
	Loc          Coord     `json:"loc"`
	Available    bool      `json:"available"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Updated      time.Time `json:"updated"`
}

// Capable reports whether the provider offers the given service type.
// An empty capability set means a generalist who takes anything.
func (p Provider) Capable(serviceType string) bool {
	if serviceType == "" || len(p.Capabilities) == 0 {
		return true
	}
	for _, c := range p.Capabilities {
		if c == serviceType {
			return true
		}
	}
	return false
}
