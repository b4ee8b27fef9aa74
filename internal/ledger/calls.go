package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voice-gateway/internal/calls"

	"github.com/google/uuid"
)

// RecentCallsLimit bounds ListRecentCalls.
const RecentCallsLimit = 100

const callColumns = `k.id, k.client_id, COALESCE(c.name, ''), k.call_id, k.caller_number, k.called_number,
	k.start_time, k.end_time, k.duration, k.status`

const (
	sqlInsertCall = `INSERT INTO calls (id, client_id, call_id, caller_number, called_number, start_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	// status guard makes finalization a one-shot transition
	sqlFinalizeCall = `UPDATE calls SET end_time = $2, duration = $3, status = $4
		WHERE id = $1 AND status = $5`
	sqlGetCall = `SELECT ` + callColumns + ` FROM calls k LEFT JOIN clients c ON c.id = k.client_id
		WHERE k.id = $1`
	sqlRecentCalls = `SELECT ` + callColumns + ` FROM calls k LEFT JOIN clients c ON c.id = k.client_id
		ORDER BY k.start_time DESC, k.id LIMIT $1`
	sqlCallsBetween = `SELECT ` + callColumns + ` FROM calls k LEFT JOIN clients c ON c.id = k.client_id
		WHERE k.start_time >= $1 AND k.start_time < $2
		ORDER BY k.start_time`

	sqlInsertInteraction = `INSERT INTO call_interactions (id, call_id, seq, speaker, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	sqlListInteractions = `SELECT id, call_id, seq, speaker, content, created_at FROM call_interactions
		WHERE call_id = $1 ORDER BY created_at, seq`

	sqlInsertErrorLog = `INSERT INTO error_logs (id, error_type, details, created_at) VALUES ($1, $2, $3, $4)`
	sqlListErrorLogs  = `SELECT id, error_type, details, created_at FROM error_logs ORDER BY created_at DESC LIMIT $1`
)

// CreateCall inserts an in-progress call. ID is assigned when empty.
func (s *Store) CreateCall(ctx context.Context, c calls.Call) (calls.Call, error) {
	if c.ClientID == "" || c.SIPCallID == "" {
		return calls.Call{}, fmt.Errorf("%w: client id and call id are required", ErrInvalidArgument)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartTime.IsZero() {
		c.StartTime = s.clock().UTC()
	}
	c.Status = calls.CallStatusInProgress
	c.EndTime, c.DurationSeconds = nil, nil

	_, err := s.db.ExecContext(ctx, s.q(sqlInsertCall),
		c.ID, c.ClientID, c.SIPCallID, c.CallerNumber, c.CalledNumber, toMillis(c.StartTime), string(c.Status))
	if err != nil {
		return calls.Call{}, dbErr("create call", err)
	}
	return c, nil
}

// FinalizeCall writes end time, duration and terminal status once. A second
// finalization of the same call returns ErrInvalidArgument.
func (s *Store) FinalizeCall(ctx context.Context, id string, end time.Time, duration int, status calls.CallStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: status %q is not terminal", ErrInvalidArgument, status)
	}
	res, err := s.db.ExecContext(ctx, s.q(sqlFinalizeCall),
		id, toMillis(end), duration, string(status), string(calls.CallStatusInProgress))
	if err != nil {
		return dbErr("finalize call", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("finalize call", err)
	}
	if n == 0 {
		if _, err := s.GetCall(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: call %s already finalized", ErrInvalidArgument, id)
	}
	return nil
}

func scanCall(r rowScanner) (calls.Call, error) {
	var (
		c        calls.Call
		start    int64
		end      sql.NullInt64
		duration sql.NullInt64
		status   string
	)
	if err := r.Scan(&c.ID, &c.ClientID, &c.ClientName, &c.SIPCallID, &c.CallerNumber, &c.CalledNumber,
		&start, &end, &duration, &status); err != nil {
		return calls.Call{}, err
	}
	c.StartTime = fromMillis(start)
	c.Status = calls.CallStatus(status)
	if end.Valid {
		t := fromMillis(end.Int64)
		c.EndTime = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	return c, nil
}

func (s *Store) GetCall(ctx context.Context, id string) (calls.Call, error) {
	c, err := scanCall(s.db.QueryRowContext(ctx, s.q(sqlGetCall), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, ErrNotFound
		}
		return calls.Call{}, dbErr("get call", err)
	}
	return c, nil
}

// ListRecentCalls returns the newest calls first, at most RecentCallsLimit.
func (s *Store) ListRecentCalls(ctx context.Context) ([]calls.Call, error) {
	return s.queryCalls(ctx, "list calls", sqlRecentCalls, RecentCallsLimit)
}

// ListCallsBetween returns calls started in [from, to).
func (s *Store) ListCallsBetween(ctx context.Context, from, to time.Time) ([]calls.Call, error) {
	return s.queryCalls(ctx, "list calls between", sqlCallsBetween, toMillis(from), toMillis(to))
}

func (s *Store) queryCalls(ctx context.Context, op, query string, args ...any) ([]calls.Call, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	out := []calls.Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op, err)
	}
	return out, nil
}

func (s *Store) AppendInteraction(ctx context.Context, in calls.Interaction) error {
	if in.CallID == "" {
		return fmt.Errorf("%w: call id is required", ErrInvalidArgument)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = s.clock()
	}
	_, err := s.db.ExecContext(ctx, s.q(sqlInsertInteraction),
		in.ID, in.CallID, in.Seq, string(in.Speaker), in.Content, toMillis(in.Timestamp))
	if err != nil {
		return dbErr("append interaction", err)
	}
	return nil
}

// ListInteractions returns the transcript of one call in conversation order.
func (s *Store) ListInteractions(ctx context.Context, callID string) ([]calls.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(sqlListInteractions), callID)
	if err != nil {
		return nil, dbErr("list interactions", err)
	}
	defer rows.Close()

	out := []calls.Interaction{}
	for rows.Next() {
		var (
			in      calls.Interaction
			speaker string
			ts      int64
		)
		if err := rows.Scan(&in.ID, &in.CallID, &in.Seq, &speaker, &in.Content, &ts); err != nil {
			return nil, dbErr("scan interaction", err)
		}
		in.Speaker = calls.Speaker(speaker)
		in.Timestamp = fromMillis(ts)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list interactions", err)
	}
	return out, nil
}

func (s *Store) AppendErrorLog(ctx context.Context, e calls.ErrorLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("%w: details: %v", ErrInvalidArgument, err)
	}
	if _, err := s.db.ExecContext(ctx, s.q(sqlInsertErrorLog), e.ID, e.ErrorType, string(details), toMillis(e.CreatedAt)); err != nil {
		return dbErr("append error log", err)
	}
	return nil
}

// ListErrorLogs returns the newest error logs first.
func (s *Store) ListErrorLogs(ctx context.Context, limit int) ([]calls.ErrorLog, error) {
	if limit <= 0 {
		limit = RecentCallsLimit
	}
	rows, err := s.db.QueryContext(ctx, s.q(sqlListErrorLogs), limit)
	if err != nil {
		return nil, dbErr("list error logs", err)
	}
	defer rows.Close()

	out := []calls.ErrorLog{}
	for rows.Next() {
		var (
			e       calls.ErrorLog
			details string
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.ErrorType, &details, &ts); err != nil {
			return nil, dbErr("scan error log", err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, dbErr("decode error log", err)
		}
		e.CreatedAt = fromMillis(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list error logs", err)
	}
	return out, nil
}
