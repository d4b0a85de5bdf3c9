// Package attributes reads member and listing snapshots from the profile
// store and pages through them as match candidates.
package attributes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lib/pq"

	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

const kmPerDegreeLat = 111.32

// PostgresStore reads the entity_snapshots view published by the profile
// service: (tenant_id, id, kind, owner_id, active, lat, lon, categories
// text[], attributes jsonb). attributes holds the remaining snapshot fields.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ matching.AttributeStore  = (*PostgresStore)(nil)
	_ matching.CandidateSource = (*PostgresStore)(nil)
)

const snapshotColumns = `id, tenant_id, kind, owner_id, active, attributes`

func (s *PostgresStore) Get(ctx context.Context, tenantID, entityID string) (*models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM entity_snapshots WHERE tenant_id = $1 AND id = $2`,
		tenantID, entityID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, matching.ErrEntityNotFound
	}
	return snap, err
}

// Page pushes a bounding box and the category bucket down as coarse filters.
// Rows without a location or categories pass, the generator decides on them.
func (s *PostgresStore) Page(ctx context.Context, q matching.CandidateQuery) ([]*models.Snapshot, error) {
	var b strings.Builder
	args := []interface{}{q.TenantID, string(q.Kind)}
	b.WriteString(`SELECT ` + snapshotColumns + ` FROM entity_snapshots WHERE tenant_id = $1 AND kind = $2 AND active`)

	if box, ok := boundingBox(q); ok {
		args = append(args, box.minLat, box.maxLat)
		fmt.Fprintf(&b, ` AND (lat IS NULL OR lat BETWEEN $%d AND $%d`, len(args)-1, len(args))
		if box.lonBounded {
			args = append(args, box.minLon, box.maxLon)
			fmt.Fprintf(&b, ` AND lon BETWEEN $%d AND $%d`, len(args)-1, len(args))
		}
		b.WriteString(`)`)
	}
	if len(q.Categories) > 0 {
		args = append(args, pq.Array(q.Categories))
		fmt.Fprintf(&b, ` AND (cardinality(categories) = 0 OR categories && $%d)`, len(args))
	}

	args = append(args, q.Limit, q.Offset)
	fmt.Fprintf(&b, ` ORDER BY id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	out := []*models.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ActiveMembers lists the ids of every active member of a tenant, the
// subject set of a tenant-wide re-score.
func (s *PostgresStore) ActiveMembers(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM entity_snapshots WHERE tenant_id = $1 AND kind = $2 AND active ORDER BY id`,
		tenantID, string(models.KindMember))
	if err != nil {
		return nil, fmt.Errorf("query active members: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		id, tenantID, kind string
		owner              sql.NullString
		active             bool
		attrs              []byte
	)
	if err := row.Scan(&id, &tenantID, &kind, &owner, &active, &attrs); err != nil {
		return nil, err
	}
	snap := &models.Snapshot{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, snap); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", id, err)
		}
	}
	snap.ID = id
	snap.TenantID = tenantID
	snap.Kind = models.EntityKind(kind)
	snap.OwnerID = owner.String
	snap.Active = active
	return snap, nil
}

type box struct {
	minLat, maxLat float64
	minLon, maxLon float64
	lonBounded     bool
}

// boundingBox returns a lat/lon rectangle enclosing the search radius. The
// longitude bound is dropped near the poles and across the antimeridian.
func boundingBox(q matching.CandidateQuery) (box, bool) {
	if q.MaxDistanceKm <= 0 || q.Subject == nil || q.Subject.Location == nil {
		return box{}, false
	}
	loc := q.Subject.Location
	dLat := q.MaxDistanceKm / kmPerDegreeLat
	b := box{minLat: loc.Lat - dLat, maxLat: loc.Lat + dLat}

	cos := math.Cos(loc.Lat * math.Pi / 180)
	if cos > 0.01 {
		dLon := q.MaxDistanceKm / (kmPerDegreeLat * cos)
		if loc.Lon-dLon >= -180 && loc.Lon+dLon <= 180 {
			b.minLon, b.maxLon, b.lonBounded = loc.Lon-dLon, loc.Lon+dLon, true
		}
	}
	return b, true
}
