package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// timeFormat is RFC3339 with fixed-width nanoseconds so that the textual
// ordering of stored timestamps matches their temporal ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) migrate() error {
	ctx := context.Background()
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	triggers := historyTriggersSQLite
	if s.dialect == dialectPostgres {
		triggers = historyTriggersPostgres
	}
	if _, err := s.db.ExecContext(ctx, triggers); err != nil {
		return fmt.Errorf("migrate triggers: %w", err)
	}
	return nil
}

func (s *sqlStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqlTx{tx: tx, dialect: s.dialect}, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// splitStatements breaks the schema into single statements; sqlite's driver
// executes one statement per Exec.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

type sqlTx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// rebind rewrites "?" placeholders to "$n" for postgres.
func (t *sqlTx) rebind(query string) string {
	if t.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, t.rebind(query), args...)
	return err
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// --- Templates and blueprint entities ---

func (t *sqlTx) InsertTemplate(ctx context.Context, tpl *contracts.Template) error {
	return t.exec(ctx, `INSERT INTO templates (template_id, name, version, description, ai_context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, tpl.Version, tpl.Description, tpl.AIContext, formatTime(tpl.CreatedAt))
}

func (t *sqlTx) GetTemplate(ctx context.Context, id string) (*contracts.Template, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT template_id, name, version, description, ai_context, created_at
		FROM templates WHERE template_id = ?`), id)
	var tpl contracts.Template
	var created string
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Version, &tpl.Description, &tpl.AIContext, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	tpl.CreatedAt = parseTime(created)
	return &tpl, nil
}

func (t *sqlTx) InsertRole(ctx context.Context, r *contracts.Role) error {
	return t.exec(ctx, `INSERT INTO roles (role_id, template_id, instance_id, name, kind, strategy, actor_classes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TemplateID, r.InstanceID, r.Name, string(r.Kind), string(r.Strategy), marshalJSON(r.ActorClasses))
}

func (t *sqlTx) InsertInteraction(ctx context.Context, i *contracts.Interaction) error {
	return t.exec(ctx, `INSERT INTO interactions (interaction_id, template_id, instance_id, name, description)
		VALUES (?, ?, ?, ?, ?)`,
		i.ID, i.TemplateID, i.InstanceID, i.Name, i.Description)
}

func (t *sqlTx) InsertComponent(ctx context.Context, c *contracts.Component) error {
	return t.exec(ctx, `INSERT INTO components (component_id, template_id, instance_id, name, role_id, interaction_id, direction, guard_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TemplateID, c.InstanceID, c.Name, c.RoleID, c.InteractionID, string(c.Direction), c.GuardID)
}

func (t *sqlTx) InsertGuard(ctx context.Context, g *contracts.Guard) error {
	var policy any
	if g.Policy != nil {
		policy = marshalJSON(g.Policy)
	}
	return t.exec(ctx, `INSERT INTO guards (guard_id, template_id, instance_id, component_id, type, policy, children, reducer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.TemplateID, g.InstanceID, g.ComponentID, string(g.Type), policy, marshalJSON(g.Children), g.Reducer)
}

const roleCols = `role_id, template_id, instance_id, name, kind, strategy, actor_classes`

func scanRole(row interface{ Scan(...any) error }) (*contracts.Role, error) {
	var r contracts.Role
	var tplID, instID sql.NullString
	var kind, strategy, classes string
	if err := row.Scan(&r.ID, &tplID, &instID, &r.Name, &kind, &strategy, &classes); err != nil {
		return nil, err
	}
	r.TemplateID = tplID.String
	r.InstanceID = instID.String
	r.Kind = contracts.RoleKind(kind)
	r.Strategy = contracts.DecompositionStrategy(strategy)
	_ = json.Unmarshal([]byte(classes), &r.ActorClasses)
	return &r, nil
}

func (t *sqlTx) queryRoles(ctx context.Context, where string, arg string) ([]*contracts.Role, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(`SELECT `+roleCols+` FROM roles WHERE `+where+` ORDER BY name`), arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqlTx) TemplateRoles(ctx context.Context, templateID string) ([]*contracts.Role, error) {
	return t.queryRoles(ctx, "template_id = ?", templateID)
}

func (t *sqlTx) InstanceRoles(ctx context.Context, instanceID string) ([]*contracts.Role, error) {
	return t.queryRoles(ctx, "instance_id = ?", instanceID)
}

func (t *sqlTx) GetRole(ctx context.Context, id string) (*contracts.Role, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT `+roleCols+` FROM roles WHERE role_id = ?`), id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", id, contracts.ErrNotFound)
	}
	return r, err
}

func (t *sqlTx) queryInteractions(ctx context.Context, where string, args ...any) ([]*contracts.Interaction, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(`SELECT interaction_id, template_id, instance_id, name, description
		FROM interactions WHERE `+where+` ORDER BY name`), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func scanInteraction(row interface{ Scan(...any) error }) (*contracts.Interaction, error) {
	var i contracts.Interaction
	var tplID, instID sql.NullString
	if err := row.Scan(&i.ID, &tplID, &instID, &i.Name, &i.Description); err != nil {
		return nil, err
	}
	i.TemplateID = tplID.String
	i.InstanceID = instID.String
	return &i, nil
}

func (t *sqlTx) TemplateInteractions(ctx context.Context, templateID string) ([]*contracts.Interaction, error) {
	return t.queryInteractions(ctx, "template_id = ?", templateID)
}

func (t *sqlTx) InstanceInteractions(ctx context.Context, instanceID string) ([]*contracts.Interaction, error) {
	return t.queryInteractions(ctx, "instance_id = ?", instanceID)
}

func (t *sqlTx) InteractionByName(ctx context.Context, instanceID, name string) (*contracts.Interaction, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT interaction_id, template_id, instance_id, name, description
		FROM interactions WHERE instance_id = ? AND name = ?`), instanceID, name)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interaction %q: %w", name, contracts.ErrNotFound)
	}
	return i, err
}

func (t *sqlTx) GetInteraction(ctx context.Context, id string) (*contracts.Interaction, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT interaction_id, template_id, instance_id, name, description
		FROM interactions WHERE interaction_id = ?`), id)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interaction %s: %w", id, contracts.ErrNotFound)
	}
	return i, err
}

const componentCols = `component_id, template_id, instance_id, name, role_id, interaction_id, direction, guard_id`

func scanComponent(row interface{ Scan(...any) error }) (*contracts.Component, error) {
	var c contracts.Component
	var tplID, instID sql.NullString
	var dir string
	if err := row.Scan(&c.ID, &tplID, &instID, &c.Name, &c.RoleID, &c.InteractionID, &dir, &c.GuardID); err != nil {
		return nil, err
	}
	c.TemplateID = tplID.String
	c.InstanceID = instID.String
	c.Direction = contracts.Direction(dir)
	return &c, nil
}

func (t *sqlTx) queryComponents(ctx context.Context, where string, args ...any) ([]*contracts.Component, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(`SELECT `+componentCols+` FROM components WHERE `+where+` ORDER BY name`), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *sqlTx) TemplateComponents(ctx context.Context, templateID string) ([]*contracts.Component, error) {
	return t.queryComponents(ctx, "template_id = ?", templateID)
}

func (t *sqlTx) InstanceComponents(ctx context.Context, instanceID string) ([]*contracts.Component, error) {
	return t.queryComponents(ctx, "instance_id = ?", instanceID)
}

func (t *sqlTx) RoleComponents(ctx context.Context, roleID string, dir contracts.Direction) ([]*contracts.Component, error) {
	return t.queryComponents(ctx, "role_id = ? AND direction = ?", roleID, string(dir))
}

func (t *sqlTx) InteractionComponents(ctx context.Context, interactionID string, dir contracts.Direction) ([]*contracts.Component, error) {
	return t.queryComponents(ctx, "interaction_id = ? AND direction = ?", interactionID, string(dir))
}

func (t *sqlTx) TemplateGuards(ctx context.Context, templateID string) ([]*contracts.Guard, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(`SELECT guard_id, template_id, instance_id, component_id, type, policy, children, reducer
		FROM guards WHERE template_id = ?`), templateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.Guard
	for rows.Next() {
		g, err := scanGuard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGuard(row interface{ Scan(...any) error }) (*contracts.Guard, error) {
	var g contracts.Guard
	var tplID, instID, policy sql.NullString
	var typ, children string
	if err := row.Scan(&g.ID, &tplID, &instID, &g.ComponentID, &typ, &policy, &children, &g.Reducer); err != nil {
		return nil, err
	}
	g.TemplateID = tplID.String
	g.InstanceID = instID.String
	g.Type = contracts.GuardType(typ)
	if policy.Valid && policy.String != "" {
		var p contracts.InteractionPolicy
		if err := json.Unmarshal([]byte(policy.String), &p); err != nil {
			return nil, fmt.Errorf("guard %s: bad policy: %w", g.ID, err)
		}
		g.Policy = &p
	}
	_ = json.Unmarshal([]byte(children), &g.Children)
	return &g, nil
}

func (t *sqlTx) GetGuard(ctx context.Context, id string) (*contracts.Guard, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT guard_id, template_id, instance_id, component_id, type, policy, children, reducer
		FROM guards WHERE guard_id = ?`), id)
	g, err := scanGuard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guard %s: %w", id, contracts.ErrNotFound)
	}
	return g, err
}

// --- Instances and actors ---

func (t *sqlTx) InsertInstance(ctx context.Context, inst *contracts.Instance) error {
	return t.exec(ctx, `INSERT INTO instances (instance_id, template_id, name, created_at) VALUES (?, ?, ?, ?)`,
		inst.ID, inst.TemplateID, inst.Name, formatTime(inst.CreatedAt))
}

func (t *sqlTx) GetInstance(ctx context.Context, id string) (*contracts.Instance, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT instance_id, template_id, name, created_at FROM instances WHERE instance_id = ?`), id)
	var inst contracts.Instance
	var created string
	err := row.Scan(&inst.ID, &inst.TemplateID, &inst.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	inst.CreatedAt = parseTime(created)
	return &inst, nil
}

func (t *sqlTx) InsertActor(ctx context.Context, a *contracts.Actor) error {
	return t.exec(ctx, `INSERT INTO actors (actor_id, class, created_at) VALUES (?, ?, ?)`,
		a.ID, a.Class, formatTime(a.CreatedAt))
}

func (t *sqlTx) GetActor(ctx context.Context, id string) (*contracts.Actor, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT actor_id, class, created_at FROM actors WHERE actor_id = ?`), id)
	var a contracts.Actor
	var created string
	err := row.Scan(&a.ID, &a.Class, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("actor %s: %w", id, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// --- UOW rows ---

const uowCols = `uow_id, instance_id, parent_id, status, interaction_count, max_interactions, priority,
	current_interaction_id, lease_actor_id, last_heartbeat, content_hash, child_count, finished_child_count,
	created_at, updated_at`

func scanUOW(row interface{ Scan(...any) error }) (*contracts.UOW, error) {
	var u contracts.UOW
	var status, created, updated string
	var heartbeat sql.NullString
	if err := row.Scan(&u.ID, &u.InstanceID, &u.ParentID, &status, &u.InteractionCount, &u.MaxInteractions,
		&u.Priority, &u.CurrentInteractionID, &u.LeaseActorID, &heartbeat, &u.ContentHash,
		&u.ChildCount, &u.FinishedChildCount, &created, &updated); err != nil {
		return nil, err
	}
	u.Status = contracts.UOWStatus(status)
	if heartbeat.Valid && heartbeat.String != "" {
		hb := parseTime(heartbeat.String)
		u.LastHeartbeat = &hb
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

func heartbeatValue(u *contracts.UOW) any {
	if u.LastHeartbeat == nil {
		return nil
	}
	return formatTime(*u.LastHeartbeat)
}

func (t *sqlTx) InsertUOW(ctx context.Context, u *contracts.UOW) error {
	return t.exec(ctx, `INSERT INTO uows (`+uowCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.InstanceID, u.ParentID, string(u.Status), u.InteractionCount, u.MaxInteractions, u.Priority,
		u.CurrentInteractionID, u.LeaseActorID, heartbeatValue(u), u.ContentHash,
		u.ChildCount, u.FinishedChildCount, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
}

func (t *sqlTx) getUOW(ctx context.Context, id string, forUpdate bool) (*contracts.UOW, error) {
	query := `SELECT ` + uowCols + ` FROM uows WHERE uow_id = ?`
	if forUpdate && t.dialect == dialectPostgres {
		query += " FOR UPDATE"
	}
	row := t.tx.QueryRowContext(ctx, t.rebind(query), id)
	u, err := scanUOW(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("uow %s: %w", id, contracts.ErrNotFound)
	}
	return u, err
}

func (t *sqlTx) GetUOW(ctx context.Context, id string) (*contracts.UOW, error) {
	return t.getUOW(ctx, id, false)
}

func (t *sqlTx) GetUOWForUpdate(ctx context.Context, id string) (*contracts.UOW, error) {
	return t.getUOW(ctx, id, true)
}

func (t *sqlTx) UpdateUOW(ctx context.Context, u *contracts.UOW) error {
	return t.exec(ctx, `UPDATE uows SET status = ?, interaction_count = ?, max_interactions = ?, priority = ?,
		current_interaction_id = ?, lease_actor_id = ?, last_heartbeat = ?, content_hash = ?,
		child_count = ?, finished_child_count = ?, updated_at = ?
		WHERE uow_id = ?`,
		string(u.Status), u.InteractionCount, u.MaxInteractions, u.Priority,
		u.CurrentInteractionID, u.LeaseActorID, heartbeatValue(u), u.ContentHash,
		u.ChildCount, u.FinishedChildCount, formatTime(u.UpdatedAt), u.ID)
}

func (t *sqlTx) queryUOWs(ctx context.Context, where, order string, args ...any) ([]*contracts.UOW, error) {
	query := `SELECT ` + uowCols + ` FROM uows WHERE ` + where
	if order != "" {
		query += ` ORDER BY ` + order
	}
	rows, err := t.tx.QueryContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.UOW
	for rows.Next() {
		u, err := scanUOW(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *sqlTx) PendingUOWs(ctx context.Context, interactionIDs []string) ([]*contracts.UOW, error) {
	if len(interactionIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(interactionIDs)-1) + "?"
	args := make([]any, 0, len(interactionIDs)+1)
	args = append(args, string(contracts.StatusPending))
	for _, id := range interactionIDs {
		args = append(args, id)
	}
	return t.queryUOWs(ctx,
		`status = ? AND current_interaction_id IN (`+placeholders+`)`,
		`priority DESC, created_at ASC, uow_id ASC`, args...)
}

func (t *sqlTx) ActiveUOWs(ctx context.Context, instanceID string) ([]*contracts.UOW, error) {
	return t.queryUOWs(ctx, `status = ? AND instance_id = ?`, `uow_id ASC`,
		string(contracts.StatusActive), instanceID)
}

func (t *sqlTx) ActiveHeartbeatBefore(ctx context.Context, cutoff time.Time) ([]*contracts.UOW, error) {
	return t.queryUOWs(ctx, `status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`, `uow_id ASC`,
		string(contracts.StatusActive), formatTime(cutoff))
}

func (t *sqlTx) SoftZombiesBefore(ctx context.Context, cutoff time.Time) ([]*contracts.UOW, error) {
	// Zombied rows have no heartbeat; updated_at marks when they wedged.
	return t.queryUOWs(ctx, `status = ? AND updated_at < ?`, `uow_id ASC`,
		string(contracts.StatusZombiedSoft), formatTime(cutoff))
}

func (t *sqlTx) Children(ctx context.Context, parentID string) ([]*contracts.UOW, error) {
	return t.queryUOWs(ctx, `parent_id = ?`, `uow_id ASC`, parentID)
}

// --- Attributes ---

func (t *sqlTx) InsertAttribute(ctx context.Context, a *contracts.Attribute) error {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT COALESCE(MAX(version), 0) FROM uow_attributes
		WHERE uow_id = ? AND key = ?`), a.UOWID, a.Key)
	var maxVersion int
	if err := row.Scan(&maxVersion); err != nil {
		return err
	}
	a.Version = maxVersion + 1
	return t.exec(ctx, `INSERT INTO uow_attributes (uow_id, key, version, value, owner_actor_id, author_actor_id, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UOWID, a.Key, a.Version, a.Value, a.OwnerActorID, a.AuthorActorID, a.Reasoning, formatTime(a.CreatedAt))
}

func (t *sqlTx) Attributes(ctx context.Context, uowID string) ([]*contracts.Attribute, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(`SELECT uow_id, key, version, value, owner_actor_id, author_actor_id, reasoning, created_at
		FROM uow_attributes WHERE uow_id = ? ORDER BY key, version`), uowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.Attribute
	for rows.Next() {
		var a contracts.Attribute
		var created string
		if err := rows.Scan(&a.UOWID, &a.Key, &a.Version, &a.Value, &a.OwnerActorID, &a.AuthorActorID, &a.Reasoning, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(created)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (t *sqlTx) DeleteSupersededAttributesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.rebind(`DELETE FROM uow_attributes
		WHERE created_at < ?
		AND EXISTS (
			SELECT 1 FROM uow_attributes newer
			WHERE newer.uow_id = uow_attributes.uow_id
			AND newer.key = uow_attributes.key
			AND newer.owner_actor_id = uow_attributes.owner_actor_id
			AND newer.version > uow_attributes.version
		)`), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- History ---

func (t *sqlTx) InsertHistory(ctx context.Context, row *contracts.HistoryRow) error {
	return t.exec(ctx, `INSERT INTO uow_history (uow_id, seq, from_status, to_status, actor_id, event_type, reason,
		prev_content_hash, new_content_hash, attrs_digest, timestamp_utc, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.UOWID, row.Seq, string(row.FromStatus), string(row.ToStatus), row.ActorID, row.EventType, row.Reason,
		row.PrevContentHash, row.NewContentHash, row.AttrsDigest, formatTime(row.Timestamp), metadataOrEmpty(row.Metadata))
}

func metadataOrEmpty(m string) string {
	if m == "" {
		return "{}"
	}
	return m
}

func scanHistory(row interface{ Scan(...any) error }) (*contracts.HistoryRow, error) {
	var h contracts.HistoryRow
	var from, to, ts string
	if err := row.Scan(&h.UOWID, &h.Seq, &from, &to, &h.ActorID, &h.EventType, &h.Reason,
		&h.PrevContentHash, &h.NewContentHash, &h.AttrsDigest, &ts, &h.Metadata); err != nil {
		return nil, err
	}
	h.FromStatus = contracts.UOWStatus(from)
	h.ToStatus = contracts.UOWStatus(to)
	h.Timestamp = parseTime(ts)
	return &h, nil
}

const historyCols = `uow_id, seq, from_status, to_status, actor_id, event_type, reason,
	prev_content_hash, new_content_hash, attrs_digest, timestamp_utc, metadata`

func (t *sqlTx) LastHistory(ctx context.Context, uowID string) (*contracts.HistoryRow, error) {
	row := t.tx.QueryRowContext(ctx, t.rebind(`SELECT `+historyCols+` FROM uow_history
		WHERE uow_id = ? ORDER BY seq DESC LIMIT 1`), uowID)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (t *sqlTx) History(ctx context.Context, uowID string) ([]*contracts.HistoryRow, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(`SELECT `+historyCols+` FROM uow_history
		WHERE uow_id = ? ORDER BY seq ASC`), uowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*contracts.HistoryRow
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
