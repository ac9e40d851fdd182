package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/airalabs/aira-console/internal/model"
)

type Store struct {
	db DB
}

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func New(db DB) *Store {
	return &Store{db: db}
}

// ---- Reconciliation writes ----

// FinishStaleSessions closes every active session that is absent from the
// live SID list and was created before cutoff. The cutoff guard keeps
// sessions recorded ahead of their live-room visibility from being closed
// moments after creation. An empty live list is valid and closes all eligible
// rows. Returns the number of sessions closed.
func (s *Store) FinishStaleSessions(ctx context.Context, liveSIDs []string, cutoff time.Time) (int64, error) {
	if liveSIDs == nil {
		liveSIDs = []string{}
	}
	const q = `
update sessions
set status = 'finished',
    end_time = now(),
    active_participants = 0
where status = 'active'
  and sid <> all($1::text[])
  and created_at < $2`
	tag, err := s.db.Exec(ctx, q, liveSIDs, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateSessionParticipants sets the current participant count from the live
// reading and raises the historical maximum, never lowering it.
func (s *Store) UpdateSessionParticipants(ctx context.Context, sid string, count int) error {
	const q = `
update sessions
set total_participants = greatest(total_participants, $2),
    active_participants = $2
where sid = $1 and status = 'active'`
	_, err := s.db.Exec(ctx, q, sid, count)
	return err
}

// DeactivateStaleEgress flips is_active off for rows whose job disappeared
// from the live list and which are older than cutoff. Returns the number of
// rows deactivated.
func (s *Store) DeactivateStaleEgress(ctx context.Context, liveIDs []string, cutoff time.Time) (int64, error) {
	if liveIDs == nil {
		liveIDs = []string{}
	}
	const q = `
update egress
set is_active = false, updated_at = now()
where is_active = true
  and id <> all($1::text[])
  and created_at < $2`
	tag, err := s.db.Exec(ctx, q, liveIDs, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateEgressOutput backfills the destination of a still-active job and
// touches its freshness timestamp.
func (s *Store) UpdateEgressOutput(ctx context.Context, id, outputURL string) error {
	const q = `
update egress
set output_url = $2, updated_at = now()
where id = $1 and is_active = true`
	_, err := s.db.Exec(ctx, q, id, outputURL)
	return err
}

type IngressUpsertInput struct {
	ID        string
	Name      string
	InputType string
	RoomName  string
	StreamKey string
	URL       string
}

// UpsertIngress records a discovered ingress endpoint. Stored attribute
// values are authoritative once created: on conflict only updated_at moves.
func (s *Store) UpsertIngress(ctx context.Context, in IngressUpsertInput) error {
	name := in.Name
	if name == "" {
		name = in.ID
	}
	const q = `
insert into ingress
  (id, name, input_type, room_name, stream_key, url, is_enabled, created_at, updated_at)
values
  ($1, $2, $3, $4, $5, $6, true, now(), now())
on conflict (id) do update
set updated_at = now()`
	_, err := s.db.Exec(ctx, q, in.ID, name, in.InputType, in.RoomName, in.StreamKey, in.URL)
	return err
}

// ---- Webhook ingestion ----

func (s *Store) RecordWebhookEvent(ctx context.Context, id, eventType string, payload []byte) error {
	const q = `
insert into webhook_events
  (id, event_type, payload, processed, delivery_attempts, created_at)
values
  ($1, $2, $3, false, 0, now())`
	_, err := s.db.Exec(ctx, q, id, eventType, payload)
	return err
}

func (s *Store) MarkWebhookEventProcessed(ctx context.Context, id string) error {
	const q = `update webhook_events set processed = true where id = $1`
	_, err := s.db.Exec(ctx, q, id)
	return err
}

type StartSessionInput struct {
	SID       string
	RoomName  string
	ProjectID *string
}

// StartSession records a room start. A replayed start for a known SID
// reactivates the row rather than duplicating it.
func (s *Store) StartSession(ctx context.Context, in StartSessionInput) error {
	const q = `
insert into sessions
  (sid, room_name, status, start_time, total_participants, active_participants, project_id, created_at)
values
  ($1, $2, 'active', now(), 0, 0, $3, now())
on conflict (sid) do update
set status = 'active', start_time = now()`
	_, err := s.db.Exec(ctx, q, in.SID, in.RoomName, in.ProjectID)
	return err
}

func (s *Store) FinishSessionByRoom(ctx context.Context, roomName string) error {
	const q = `
update sessions
set status = 'finished',
    end_time = now(),
    active_participants = 0
where room_name = $1 and status = 'active'`
	_, err := s.db.Exec(ctx, q, roomName)
	return err
}

type EgressStartInput struct {
	ID         string
	Name       string
	EgressType string
	RoomName   string
	OutputType string
	OutputURL  string
	ProjectID  *string
}

func (s *Store) StartEgress(ctx context.Context, in EgressStartInput) error {
	name := in.Name
	if name == "" {
		name = in.ID
	}
	const q = `
insert into egress
  (id, name, egress_type, room_name, output_type, output_url, is_active, project_id, created_at, updated_at)
values
  ($1, $2, $3, $4, $5, $6, true, $7, now(), now())
on conflict (id) do update
set is_active = true, updated_at = now()`
	_, err := s.db.Exec(ctx, q, in.ID, name, in.EgressType, in.RoomName, in.OutputType, in.OutputURL, in.ProjectID)
	return err
}

func (s *Store) FinishEgress(ctx context.Context, id, outputURL string) error {
	const q = `
update egress
set is_active = false, output_url = $2, updated_at = now()
where id = $1`
	_, err := s.db.Exec(ctx, q, id, outputURL)
	return err
}

type ParticipantJoinInput struct {
	RecordID   string
	SessionSID string
	Identity   string
	Platform   string
	Browser    string
	ProjectID  *string
}

// RecordParticipantJoined writes the participant record and bumps both
// session counters in one transaction.
func (s *Store) RecordParticipantJoined(ctx context.Context, in ParticipantJoinInput) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertQ = `
insert into participant_records
  (id, session_id, identity, status, joined_at, platform, browser, project_id)
values
  ($1, $2, $3, 'active', now(), $4, $5, $6)`
	if _, err := tx.Exec(ctx, insertQ, in.RecordID, in.SessionSID, in.Identity, in.Platform, in.Browser, in.ProjectID); err != nil {
		return err
	}

	const bumpQ = `
update sessions
set total_participants = total_participants + 1,
    active_participants = active_participants + 1
where sid = $1`
	if _, err := tx.Exec(ctx, bumpQ, in.SessionSID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordParticipantLeft closes the participant record and decrements the
// active count, flooring at zero so a duplicate leave cannot go negative.
func (s *Store) RecordParticipantLeft(ctx context.Context, sessionSID, identity string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const leaveQ = `
update participant_records
set status = 'left', left_at = now()
where session_id = $1 and identity = $2 and status = 'active'`
	if _, err := tx.Exec(ctx, leaveQ, sessionSID, identity); err != nil {
		return err
	}

	const dropQ = `
update sessions
set active_participants = greatest(0, active_participants - 1)
where sid = $1`
	if _, err := tx.Exec(ctx, dropQ, sessionSID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ---- Read paths ----

type ListSessionsFilter struct {
	Status string
	Search string
	Page   int
	Limit  int
}

const sessionColumns = `sid, room_name, status, start_time, end_time, coalesce(duration, 0), total_participants, active_participants, project_id, created_at`

func (s *Store) ListSessions(ctx context.Context, f ListSessionsFilter) (*model.SessionPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}

	where := ""
	args := []any{}
	appendCond := func(cond string, arg any) {
		args = append(args, arg)
		clause := fmt.Sprintf(cond, len(args))
		if where == "" {
			where = "where " + clause
		} else {
			where += " and " + clause
		}
	}
	if f.Status != "" {
		appendCond("status = $%d", f.Status)
	}
	if f.Search != "" {
		appendCond("room_name ilike $%d", "%"+f.Search+"%")
	}

	var total int
	countQ := "select count(*) from sessions " + where
	if err := s.db.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, err
	}

	offset := (f.Page - 1) * f.Limit
	pageQ := fmt.Sprintf(
		"select %s from sessions %s order by start_time desc limit $%d offset $%d",
		sessionColumns, where, len(args)+1, len(args)+2,
	)
	rows, err := s.db.Query(ctx, pageQ, append(args, f.Limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &model.SessionPage{Page: f.Page, Limit: f.Limit, Total: total, Sessions: make([]model.Session, 0)}
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(
			&sess.SID, &sess.RoomName, &sess.Status, &sess.StartTime, &sess.EndTime,
			&sess.DurationSeconds, &sess.TotalParticipants, &sess.ActiveParticipants,
			&sess.ProjectID, &sess.CreatedAt,
		); err != nil {
			return nil, err
		}
		out.Sessions = append(out.Sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AnalyticsSummary(ctx context.Context) (*model.AnalyticsSummary, error) {
	const q = `
select
  count(distinct room_name),
  coalesce(sum(
    case when active_participants > 0 then active_participants else total_participants end
  ), 0)
from sessions
where status = 'active'`
	var out model.AnalyticsSummary
	if err := s.db.QueryRow(ctx, q).Scan(&out.ActiveRooms, &out.TotalParticipants); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) DashboardStats(ctx context.Context, since time.Time) (*model.DashboardStats, error) {
	const totalsQ = `
select
  count(*),
  coalesce(avg(total_participants), 0),
  coalesce(avg(duration), 0)
from sessions
where start_time >= $1`
	out := &model.DashboardStats{Platforms: make(map[string]int)}
	if err := s.db.QueryRow(ctx, totalsQ, since).Scan(
		&out.TotalSessions, &out.AvgParticipants, &out.AvgDurationSeconds,
	); err != nil {
		return nil, err
	}

	const platformsQ = `
select coalesce(nullif(platform, ''), 'other'), count(distinct identity)
from participant_records
where joined_at >= $1
group by 1`
	rows, err := s.db.Query(ctx, platformsQ, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, err
		}
		out.Platforms[platform] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AnalyticsTimeseries(ctx context.Context, since time.Time) ([]model.TimeseriesPoint, error) {
	const q = `
select
  date_trunc('hour', start_time) as bucket,
  count(*),
  coalesce(sum(total_participants), 0)
from sessions
where start_time >= $1
group by bucket
order by bucket asc`
	rows, err := s.db.Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.TimeseriesPoint, 0)
	for rows.Next() {
		var p model.TimeseriesPoint
		if err := rows.Scan(&p.Bucket, &p.ActiveRooms, &p.TotalParticipants); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- Maintenance ----

func (s *Store) CleanupProcessedWebhookEvents(ctx context.Context, retention time.Duration) error {
	const q = `
delete from webhook_events
where processed = true
  and created_at < now() - $1::interval`
	_, err := s.db.Exec(ctx, q, fmt.Sprintf("%d seconds", int(retention.Seconds())))
	return err
}

// BackfillSessionDurations fills duration for finished sessions whose
// terminal webhook carried no duration (e.g. sessions closed by
// reconciliation).
func (s *Store) BackfillSessionDurations(ctx context.Context) error {
	const q = `
update sessions
set duration = floor(extract(epoch from (end_time - start_time)))::integer
where status = 'finished'
  and end_time is not null
  and coalesce(duration, 0) = 0`
	_, err := s.db.Exec(ctx, q)
	return err
}
