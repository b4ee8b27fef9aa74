package ledger

import (
	"context"

	"voice-gateway/internal/audit"
)

const sqlInsertAuditEvent = `INSERT INTO audit_events
	(id, type, actor_user_id, actor_role, ip_address, client_id, message, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// AuditRepo adapts Store to audit.Repository.
type AuditRepo struct{ s *Store }

func (s *Store) Audit() AuditRepo { return AuditRepo{s: s} }

func (r AuditRepo) Append(ctx context.Context, e audit.Event) error {
	_, err := r.s.db.ExecContext(ctx, r.s.q(sqlInsertAuditEvent),
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.ClientID, e.Message, e.Metadata, toMillis(e.CreatedAt))
	if err != nil {
		return dbErr("append audit event", err)
	}
	return nil
}
