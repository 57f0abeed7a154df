package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const uniqueViolation = "23505"

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const (
	protocolColumns = `id, name`
	clientColumns   = `c.id, c.username, c.expires_at, c.created_at`
	peerColumns     = `p.id, p.client_id, p.protocol_id, p.app_type, p.public_key, p.address, p.endpoint, p.created_at`
	peerDetailFrom  = `FROM peers p
JOIN protocols pr ON pr.id = p.protocol_id
JOIN clients c ON c.id = p.client_id`
)

func pgID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func translate(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanProtocol(row pgx.Row) (Protocol, error) {
	var id pgtype.UUID
	var p Protocol
	if err := row.Scan(&id, &p.Name); err != nil {
		return Protocol{}, err
	}
	p.ID = id.Bytes
	return p, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var id pgtype.UUID
	var c Client
	if err := row.Scan(&id, &c.Username, &c.ExpiresAt, &c.CreatedAt); err != nil {
		return Client{}, err
	}
	c.ID = id.Bytes
	return c, nil
}

func peerDest(p *Peer, id, clientID, protocolID *pgtype.UUID, appType *string, endpoint *pgtype.Text) []any {
	return []any{id, clientID, protocolID, appType, &p.PublicKey, &p.Address, endpoint, &p.CreatedAt}
}

func finishPeer(p *Peer, id, clientID, protocolID pgtype.UUID, appType string, endpoint pgtype.Text) {
	p.ID = id.Bytes
	p.ClientID = clientID.Bytes
	p.ProtocolID = protocolID.Bytes
	p.AppType = AppType(appType)
	if endpoint.Valid {
		value := endpoint.String
		p.Endpoint = &value
	}
}

func scanPeer(row pgx.Row) (Peer, error) {
	var (
		p                        Peer
		id, clientID, protocolID pgtype.UUID
		appType                  string
		endpoint                 pgtype.Text
	)
	if err := row.Scan(peerDest(&p, &id, &clientID, &protocolID, &appType, &endpoint)...); err != nil {
		return Peer{}, err
	}
	finishPeer(&p, id, clientID, protocolID, appType, endpoint)
	return p, nil
}

func scanPeerDetail(row pgx.Row) (PeerDetail, error) {
	var (
		d                        PeerDetail
		id, clientID, protocolID pgtype.UUID
		appType                  string
		endpoint                 pgtype.Text
	)
	dest := append(peerDest(&d.Peer, &id, &clientID, &protocolID, &appType, &endpoint), &d.Protocol, &d.Username)
	if err := row.Scan(dest...); err != nil {
		return PeerDetail{}, err
	}
	finishPeer(&d.Peer, id, clientID, protocolID, appType, endpoint)
	return d, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Postgres) GetProtocolByName(ctx context.Context, name string) (Protocol, error) {
	p, err := scanProtocol(s.db.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocols WHERE name = $1`, name))
	if err != nil {
		return Protocol{}, translate(err, "get protocol")
	}
	return p, nil
}

func (s *Postgres) EnsureProtocol(ctx context.Context, name string) (Protocol, error) {
	p, err := scanProtocol(s.db.QueryRow(ctx, `
INSERT INTO protocols (id, name) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING `+protocolColumns, pgID(uuid.New()), name))
	if err != nil {
		return Protocol{}, translate(err, "ensure protocol")
	}
	return p, nil
}

func (s *Postgres) ListProtocols(ctx context.Context) ([]Protocol, error) {
	rows, err := s.db.Query(ctx, `SELECT `+protocolColumns+` FROM protocols ORDER BY name`)
	if err != nil {
		return nil, translate(err, "list protocols")
	}
	protocols, err := collect(rows, scanProtocol)
	if err != nil {
		return nil, translate(err, "list protocols")
	}
	return protocols, nil
}

func (s *Postgres) CreateClient(ctx context.Context, username string, expiresAt time.Time) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `
INSERT INTO clients AS c (id, username, expires_at) VALUES ($1, $2, $3)
RETURNING `+clientColumns, pgID(uuid.New()), username, expiresAt))
	if err != nil {
		return Client{}, translate(err, "create client")
	}
	return c, nil
}

func (s *Postgres) GetClientByID(ctx context.Context, id uuid.UUID) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients c WHERE c.id = $1`, pgID(id)))
	if err != nil {
		return Client{}, translate(err, "get client")
	}
	return c, nil
}

func (s *Postgres) GetClientByUsername(ctx context.Context, username string) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients c WHERE c.username = $1`, username))
	if err != nil {
		return Client{}, translate(err, "get client by username")
	}
	return c, nil
}

func (s *Postgres) UpdateClientExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) (Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `
UPDATE clients AS c SET expires_at = $2 WHERE c.id = $1
RETURNING `+clientColumns, pgID(id), expiresAt))
	if err != nil {
		return Client{}, translate(err, "update client")
	}
	return c, nil
}

func (s *Postgres) DeleteClient(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM clients WHERE id = $1`, pgID(id))
	if err != nil {
		return translate(err, "delete client")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete client: %w", ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListClientsByProtocol(ctx context.Context, protocolID uuid.UUID) ([]Client, error) {
	return s.listClients(ctx, protocolID, nil)
}

func (s *Postgres) ListExpiredClients(ctx context.Context, protocolID uuid.UUID, now time.Time) ([]Client, error) {
	return s.listClients(ctx, protocolID, &now)
}

func (s *Postgres) listClients(ctx context.Context, protocolID uuid.UUID, expiredBefore *time.Time) ([]Client, error) {
	query := `SELECT DISTINCT ` + clientColumns + ` FROM clients c
JOIN peers p ON p.client_id = c.id
WHERE p.protocol_id = $1 AND ($2::timestamptz IS NULL OR c.expires_at < $2)
ORDER BY c.created_at, c.id`
	rows, err := s.db.Query(ctx, query, pgID(protocolID), expiredBefore)
	if err != nil {
		return nil, translate(err, "list clients")
	}
	clients, err := collect(rows, scanClient)
	if err != nil {
		return nil, translate(err, "list clients")
	}
	if len(clients) == 0 {
		return clients, nil
	}

	rows, err = s.db.Query(ctx, `SELECT `+peerColumns+` FROM peers p
WHERE p.protocol_id = $1
ORDER BY p.created_at, p.id`, pgID(protocolID))
	if err != nil {
		return nil, translate(err, "list peers")
	}
	peers, err := collect(rows, scanPeer)
	if err != nil {
		return nil, translate(err, "list peers")
	}

	index := make(map[uuid.UUID]int, len(clients))
	for i, c := range clients {
		index[c.ID] = i
	}
	for _, p := range peers {
		if i, ok := index[p.ClientID]; ok {
			clients[i].Peers = append(clients[i].Peers, p)
		}
	}
	return clients, nil
}

func (s *Postgres) CreatePeer(ctx context.Context, np NewPeer) (Peer, error) {
	p, err := scanPeer(s.db.QueryRow(ctx, `
INSERT INTO peers AS p (id, client_id, protocol_id, app_type, public_key, address)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+peerColumns,
		pgID(uuid.New()), pgID(np.ClientID), pgID(np.ProtocolID), string(np.AppType), np.PublicKey, np.Address))
	if err != nil {
		return Peer{}, translate(err, "create peer")
	}
	return p, nil
}

func (s *Postgres) GetPeerByID(ctx context.Context, id uuid.UUID) (PeerDetail, error) {
	d, err := scanPeerDetail(s.db.QueryRow(ctx, `SELECT `+peerColumns+`, pr.name, c.username `+peerDetailFrom+`
WHERE p.id = $1`, pgID(id)))
	if err != nil {
		return PeerDetail{}, translate(err, "get peer")
	}
	return d, nil
}

func (s *Postgres) ListPeersByProtocol(ctx context.Context, protocolID uuid.UUID) ([]PeerDetail, error) {
	return s.listPeerDetails(ctx, `p.protocol_id = $1`, pgID(protocolID))
}

func (s *Postgres) ListPeersByClient(ctx context.Context, clientID uuid.UUID) ([]PeerDetail, error) {
	return s.listPeerDetails(ctx, `p.client_id = $1`, pgID(clientID))
}

func (s *Postgres) listPeerDetails(ctx context.Context, where string, arg any) ([]PeerDetail, error) {
	rows, err := s.db.Query(ctx, `SELECT `+peerColumns+`, pr.name, c.username `+peerDetailFrom+`
WHERE `+where+`
ORDER BY p.created_at, p.id`, arg)
	if err != nil {
		return nil, translate(err, "list peers")
	}
	peers, err := collect(rows, scanPeerDetail)
	if err != nil {
		return nil, translate(err, "list peers")
	}
	return peers, nil
}

func (s *Postgres) DeletePeer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM peers WHERE id = $1`, pgID(id))
	if err != nil {
		return translate(err, "delete peer")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete peer: %w", ErrNotFound)
	}
	return nil
}

func (s *Postgres) UpdatePeerEndpoint(ctx context.Context, id uuid.UUID, endpoint string) error {
	tag, err := s.db.Exec(ctx, `UPDATE peers SET endpoint = $2 WHERE id = $1`, pgID(id), endpoint)
	if err != nil {
		return translate(err, "update peer endpoint")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update peer endpoint: %w", ErrNotFound)
	}
	return nil
}

// InTx uses a savepoint when s is already transactional.
func (s *Postgres) InTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&Postgres{db: tx})
	})
}
