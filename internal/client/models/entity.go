package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityKind classifies a shop entity.
type EntityKind string

const (
	KindCustomer EntityKind = "customer"
	KindDevice   EntityKind = "device"
	KindService  EntityKind = "service"
	KindDocument EntityKind = "document"
)

// Store names, one namespace per entity kind.
const (
	StoreCustomers = "customers"
	StoreDevices   = "devices"
	StoreServices  = "services"
	StoreDocuments = "documents"
)

var ErrUnknownKind = errors.New("unknown entity kind")

var kindStores = map[EntityKind]string{
	KindCustomer: StoreCustomers,
	KindDevice:   StoreDevices,
	KindService:  StoreServices,
	KindDocument: StoreDocuments,
}

// Kinds lists every entity kind in a stable order.
func Kinds() []EntityKind {
	return []EntityKind{KindCustomer, KindDevice, KindService, KindDocument}
}

// Store returns the namespace that holds entities of kind k.
func (k EntityKind) Store() (string, error) {
	s, ok := kindStores[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return s, nil
}

// KindForStore is the inverse of EntityKind.Store.
func KindForStore(store string) (EntityKind, error) {
	for k, s := range kindStores {
		if s == store {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: store %q", ErrUnknownKind, store)
}

// ParseKind accepts both the kind ("customer") and its store ("customers").
func ParseKind(s string) (EntityKind, error) {
	if _, ok := kindStores[EntityKind(s)]; ok {
		return EntityKind(s), nil
	}
	return KindForStore(s)
}

// NewKey returns a fresh client-side entity key.
func NewKey() string {
	return uuid.NewString()
}

// Entity is implemented by every shop entity struct.
type Entity interface {
	EntityID() string
	Kind() EntityKind
}

type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	TaxID    string `json:"taxId,omitempty"`
	Address  string `json:"address,omitempty"`
	Comments string `json:"comments,omitempty"`
}

func (c Customer) EntityID() string { return c.ID }
func (Customer) Kind() EntityKind   { return KindCustomer }

type Device struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customerId"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	IMEI        string `json:"imei,omitempty"`
	Description string `json:"description,omitempty"`
}

func (d Device) EntityID() string { return d.ID }
func (Device) Kind() EntityKind   { return KindDevice }

// Service is a repair job on a device.
type Service struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Price       float64   `json:"price"`
	OpenedAt    time.Time `json:"openedAt"`
}

func (s Service) EntityID() string { return s.ID }
func (Service) Kind() EntityKind   { return KindService }

// Document is a fiscal document issued for a service.
type Document struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"serviceId"`
	Number    string    `json:"number"`
	Type      string    `json:"type"`
	Total     float64   `json:"total"`
	IssuedAt  time.Time `json:"issuedAt"`
}

func (d Document) EntityID() string { return d.ID }
func (Document) Kind() EntityKind   { return KindDocument }

// UnmarshalEntity decodes data into the struct registered for kind.
func UnmarshalEntity(kind EntityKind, data json.RawMessage) (Entity, error) {
	switch kind {
	case KindCustomer:
		return unmarshalAs[Customer](data)
	case KindDevice:
		return unmarshalAs[Device](data)
	case KindService:
		return unmarshalAs[Service](data)
	case KindDocument:
		return unmarshalAs[Document](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

func unmarshalAs[T Entity](data json.RawMessage) (Entity, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
