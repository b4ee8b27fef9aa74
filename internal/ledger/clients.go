package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voice-gateway/internal/clients"
	"voice-gateway/pkg/utils"

	"github.com/google/uuid"
)

const clientColumns = `c.id, c.name, c.status, c.status_message, c.created_at, c.updated_at,
	s.sip_server, s.sip_domain, s.sip_username, s.sip_password, s.reg_interval,
	a.system_prompt, a.transcription_model, a.llm_model, a.voice_id, a.greeting_file, a.goodbye_file, a.max_turns`

const clientJoin = `FROM clients c
	JOIN sip_configs s ON s.client_id = c.id
	JOIN ai_configs a ON a.client_id = c.id`

const (
	sqlListClients = `SELECT ` + clientColumns + ` ` + clientJoin + ` ORDER BY c.created_at, c.id`
	sqlGetClient   = `SELECT ` + clientColumns + ` ` + clientJoin + ` WHERE c.id = $1`

	sqlInsertClient = `INSERT INTO clients (id, name, status, status_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	sqlInsertSIP = `INSERT INTO sip_configs (client_id, sip_server, sip_domain, sip_username, sip_password, reg_interval)
		VALUES ($1, $2, $3, $4, $5, $6)`
	sqlInsertAI = `INSERT INTO ai_configs (client_id, system_prompt, transcription_model, llm_model, voice_id, greeting_file, goodbye_file, max_turns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	sqlUpdateClient = `UPDATE clients SET name = $2, updated_at = $3 WHERE id = $1`
	sqlUpdateSIP    = `UPDATE sip_configs SET sip_server = $2, sip_domain = $3, sip_username = $4, sip_password = $5, reg_interval = $6
		WHERE client_id = $1`
	sqlUpdateAI = `UPDATE ai_configs SET system_prompt = $2, transcription_model = $3, llm_model = $4, voice_id = $5,
		greeting_file = $6, goodbye_file = $7, max_turns = $8 WHERE client_id = $1`

	sqlSetClientStatus = `UPDATE clients SET status = $2, status_message = $3, updated_at = $4 WHERE id = $1`

	sqlDeleteAI     = `DELETE FROM ai_configs WHERE client_id = $1`
	sqlDeleteSIP    = `DELETE FROM sip_configs WHERE client_id = $1`
	sqlDeleteClient = `DELETE FROM clients WHERE id = $1`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(r rowScanner) (clients.Client, error) {
	var (
		c                clients.Client
		status           string
		created, updated int64
	)
	err := r.Scan(
		&c.ID, &c.Name, &status, &c.StatusMessage, &created, &updated,
		&c.SIP.Server, &c.SIP.Domain, &c.SIP.Username, &c.SIP.Password, &c.SIP.RegInterval,
		&c.AI.SystemPrompt, &c.AI.TranscriptionModel, &c.AI.LLMModel, &c.AI.VoiceID,
		&c.AI.GreetingFile, &c.AI.GoodbyeFile, &c.AI.MaxTurns,
	)
	if err != nil {
		return clients.Client{}, err
	}
	c.Status = clients.Status(status)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]clients.Client, error) {
	rows, err := s.db.QueryContext(ctx, s.q(sqlListClients))
	if err != nil {
		return nil, dbErr("list clients", err)
	}
	defer rows.Close()

	var out []clients.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, dbErr("scan client", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list clients", err)
	}
	return out, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (clients.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, s.q(sqlGetClient), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return clients.Client{}, ErrNotFound
		}
		return clients.Client{}, dbErr("get client", err)
	}
	return c, nil
}

// AIConfig returns the conversation settings of one client.
func (s *Store) AIConfig(ctx context.Context, clientID string) (clients.AIConfig, error) {
	c, err := s.GetClient(ctx, clientID)
	if err != nil {
		return clients.AIConfig{}, err
	}
	return c.AI, nil
}

// CreateClient writes the client and both config rows in one transaction.
// ID and timestamps are assigned here.
func (s *Store) CreateClient(ctx context.Context, c clients.Client) (clients.Client, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return clients.Client{}, err
	}
	now := s.clock().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt, c.UpdatedAt = now, now

	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(sqlInsertClient),
			c.ID, c.Name, string(c.Status), c.StatusMessage, toMillis(now), toMillis(now)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(sqlInsertSIP),
			c.ID, c.SIP.Server, c.SIP.Domain, c.SIP.Username, c.SIP.Password, c.SIP.RegInterval); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(sqlInsertAI),
			c.ID, c.AI.SystemPrompt, c.AI.TranscriptionModel, c.AI.LLMModel, c.AI.VoiceID,
			c.AI.GreetingFile, c.AI.GoodbyeFile, c.AI.MaxTurns)
		return err
	})
	if err != nil {
		return clients.Client{}, dbErr("create client", err)
	}
	// Timestamps round-trip at millisecond precision.
	c.CreatedAt, c.UpdatedAt = fromMillis(toMillis(now)), fromMillis(toMillis(now))
	return c, nil
}

// UpdateClient replaces name, SIP and AI settings. Status is left untouched.
func (s *Store) UpdateClient(ctx context.Context, c clients.Client) (clients.Client, error) {
	if c.ID == "" {
		return clients.Client{}, fmt.Errorf("%w: client id is required", ErrInvalidArgument)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return clients.Client{}, err
	}
	now := toMillis(s.clock())

	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(sqlUpdateClient), c.ID, c.Name, now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, s.q(sqlUpdateSIP),
			c.ID, c.SIP.Server, c.SIP.Domain, c.SIP.Username, c.SIP.Password, c.SIP.RegInterval); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(sqlUpdateAI),
			c.ID, c.AI.SystemPrompt, c.AI.TranscriptionModel, c.AI.LLMModel, c.AI.VoiceID,
			c.AI.GreetingFile, c.AI.GoodbyeFile, c.AI.MaxTurns)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return clients.Client{}, ErrNotFound
	}
	if err != nil {
		return clients.Client{}, dbErr("update client", err)
	}
	return s.GetClient(ctx, c.ID)
}

func (s *Store) SetClientStatus(ctx context.Context, id string, status clients.Status, message string) error {
	res, err := s.db.ExecContext(ctx, s.q(sqlSetClientStatus), id, string(status), message, toMillis(s.clock()))
	if err != nil {
		return dbErr("set client status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("set client status", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClient removes the client and its configs. Call history is kept.
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(sqlDeleteAI), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(sqlDeleteSIP), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(sqlDeleteClient), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return dbErr("delete client", err)
	}
	return nil
}
