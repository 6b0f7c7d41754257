package replica

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/viralforge/commerce-mesh/platform/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate creates the replica tables in the service database.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return postgres.RunMigrations(ctx, db, migrationFS, "migrations")
}

type recordModel struct {
	Kind       string    `gorm:"column:kind;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	Version    int64     `gorm:"column:version"`
	Attributes string    `gorm:"column:attributes;type:jsonb"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (recordModel) TableName() string { return "replica_records" }

type parkedModel struct {
	Kind       string    `gorm:"column:kind;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	Version    int64     `gorm:"column:version;primaryKey"`
	Creates    bool      `gorm:"column:creates"`
	Topic      string    `gorm:"column:topic"`
	EventID    string    `gorm:"column:event_id"`
	Attributes string    `gorm:"column:attributes;type:jsonb"`
	ParkedAt   time.Time `gorm:"column:parked_at"`
}

func (parkedModel) TableName() string { return "replica_parked" }

// GormStore keeps replicas in postgres. Apply runs in one transaction holding a row lock on
// the replica, and the version check is repeated in the UPDATE itself.
type GormStore struct {
	db        *gorm.DB
	maxParked int
	nowFn     func() time.Time
}

func NewGormStore(db *gorm.DB, maxParked int) *GormStore {
	if maxParked <= 0 {
		maxParked = DefaultMaxParked
	}
	return &GormStore{db: db, maxParked: maxParked, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *GormStore) Apply(ctx context.Context, c Change) (Outcome, error) {
	if err := c.validate(); err != nil {
		return Outcome{}, err
	}
	attrs, err := encodeAttributes(c.Attributes)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.nowFn()
		local, err := lockRecord(tx, c.Kind, c.ID)
		if err != nil {
			return err
		}
		switch classify(local, c) {
		case stepDuplicate:
			out = Outcome{Status: StatusDuplicate, Record: *local}
			return nil
		case stepPark:
			out = Outcome{Status: StatusParked, Record: derefOrEmpty(local, c)}
			return s.park(tx, c, attrs, now)
		case stepCreate:
			row := recordModel{Kind: c.Kind, ID: c.ID, Version: c.Version, Attributes: attrs, UpdatedAt: now}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
			rec, err := row.toRecord()
			if err != nil {
				return err
			}
			out = Outcome{Status: StatusCreated, Record: rec}
		case stepApply:
			rec := Record{Kind: c.Kind, ID: c.ID, Version: c.Version, Attributes: merge(local.Attributes, c.Attributes), UpdatedAt: now}
			if err := casUpdate(tx, rec, local.Version); err != nil {
				return err
			}
			out = Outcome{Status: StatusApplied, Record: rec}
		}
		drained, err := drain(tx, out.Record, now)
		if err != nil {
			return err
		}
		out.Drained = drained
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionGap) || errors.Is(err, ErrVersionConflict) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("apply %s %s v%d: %w", c.Kind, c.ID, c.Version, err)
	}
	return out, nil
}

func (s *GormStore) park(tx *gorm.DB, c Change, attrs string, now time.Time) error {
	var waiting int64
	if err := tx.Model(&parkedModel{}).
		Where("kind = ? AND id = ?", c.Kind, c.ID).
		Count(&waiting).Error; err != nil {
		return err
	}
	var exists int64
	if err := tx.Model(&parkedModel{}).
		Where("kind = ? AND id = ? AND version = ?", c.Kind, c.ID, c.Version).
		Count(&exists).Error; err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	if waiting >= int64(s.maxParked) {
		return ErrVersionGap
	}
	row := parkedModel{
		Kind:       c.Kind,
		ID:         c.ID,
		Version:    c.Version,
		Creates:    c.Creates,
		Topic:      c.Topic,
		EventID:    c.EventID,
		Attributes: attrs,
		ParkedAt:   now,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func drain(tx *gorm.DB, cur Record, now time.Time) ([]Record, error) {
	if err := tx.Where("kind = ? AND id = ? AND version <= ?", cur.Kind, cur.ID, cur.Version).
		Delete(&parkedModel{}).Error; err != nil {
		return nil, err
	}
	var rows []parkedModel
	if err := tx.Where("kind = ? AND id = ?", cur.Kind, cur.ID).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	var drained []Record
	for _, row := range rows {
		if row.Version != cur.Version+1 {
			break
		}
		patch, err := DecodeAttributes([]byte(row.Attributes))
		if err != nil {
			return nil, fmt.Errorf("decode parked %s %s v%d: %w", row.Kind, row.ID, row.Version, err)
		}
		next := Record{Kind: cur.Kind, ID: cur.ID, Version: row.Version, Attributes: merge(cur.Attributes, patch), UpdatedAt: now}
		if err := casUpdate(tx, next, cur.Version); err != nil {
			return nil, err
		}
		if err := tx.Where("kind = ? AND id = ? AND version = ?", row.Kind, row.ID, row.Version).
			Delete(&parkedModel{}).Error; err != nil {
			return nil, err
		}
		drained = append(drained, next)
		cur = next
	}
	return drained, nil
}

func casUpdate(tx *gorm.DB, rec Record, expected int64) error {
	attrs, err := encodeAttributes(rec.Attributes)
	if err != nil {
		return err
	}
	res := tx.Model(&recordModel{}).
		Where("kind = ? AND id = ? AND version = ?", rec.Kind, rec.ID, expected).
		Updates(map[string]any{
			"version":    rec.Version,
			"attributes": attrs,
			"updated_at": rec.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func lockRecord(tx *gorm.DB, kind, id string) (*Record, error) {
	var row recordModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ? AND id = ?", kind, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LockRecords takes row locks on the given replicas inside tx, in id order so concurrent
// lockers cannot deadlock. Missing ids are absent from the result.
func LockRecords(tx *gorm.DB, kind string, ids []string) (map[string]Record, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var rows []recordModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ? AND id IN ?", kind, sorted).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, kind, id string) (Record, error) {
	var row recordModel
	err := s.db.WithContext(ctx).Where("kind = ? AND id = ?", kind, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return row.toRecord()
}

func (s *GormStore) List(ctx context.Context, kind string) ([]Record, error) {
	var rows []recordModel
	if err := s.db.WithContext(ctx).Where("kind = ?", kind).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) Parked(ctx context.Context, olderThan time.Time) ([]ParkedChange, error) {
	var rows []parkedModel
	if err := s.db.WithContext(ctx).
		Where("parked_at <= ?", olderThan).
		Order("kind ASC, id ASC, version ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ParkedChange, 0, len(rows))
	for _, row := range rows {
		attrs, err := DecodeAttributes([]byte(row.Attributes))
		if err != nil {
			return nil, err
		}
		out = append(out, ParkedChange{
			Change: Change{
				Kind:       row.Kind,
				ID:         row.ID,
				Version:    row.Version,
				Creates:    row.Creates,
				Attributes: attrs,
				EventID:    row.EventID,
				Topic:      row.Topic,
			},
			ParkedAt: row.ParkedAt,
		})
	}
	return out, nil
}

func (m recordModel) toRecord() (Record, error) {
	attrs, err := DecodeAttributes([]byte(m.Attributes))
	if err != nil {
		return Record{}, fmt.Errorf("decode %s %s attributes: %w", m.Kind, m.ID, err)
	}
	return Record{Kind: m.Kind, ID: m.ID, Version: m.Version, Attributes: attrs, UpdatedAt: m.UpdatedAt}, nil
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("%w: attributes: %v", ErrInvalidChange, err)
	}
	return string(raw), nil
}
