package store

import (
	"time"

	"github.com/google/uuid"
)

// AppType is the client application a peer config is generated for.
type AppType string

const (
	AppTypeAmneziaVPN AppType = "amnezia_vpn"
	AppTypeAmneziaWG  AppType = "amnezia_wg"
)

// AppTypes lists every app type in provisioning order.
var AppTypes = []AppType{AppTypeAmneziaVPN, AppTypeAmneziaWG}

func (a AppType) Valid() bool {
	return a == AppTypeAmneziaVPN || a == AppTypeAmneziaWG
}

type Protocol struct {
	ID   uuid.UUID
	Name string
}

// Client is a subscriber. Peers is only populated by listing queries and
// then holds the peers of the queried protocol.
type Client struct {
	ID        uuid.UUID
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
	Peers     []Peer
}

type Peer struct {
	ID         uuid.UUID
	ClientID   uuid.UUID
	ProtocolID uuid.UUID
	AppType    AppType
	PublicKey  string
	Address    string
	Endpoint   *string
	CreatedAt  time.Time
}

// PeerDetail is a peer joined with its protocol name and owner.
type PeerDetail struct {
	Peer
	Protocol string
	Username string
}

type NewPeer struct {
	ClientID   uuid.UUID
	ProtocolID uuid.UUID
	AppType    AppType
	PublicKey  string
	Address    string
}
