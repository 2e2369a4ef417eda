package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"creditchain/crypto"
	"creditchain/native/withdrawals"
)

// Open connects to the archive database. Supported drivers are sqlite and
// postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres", "postgresql":
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("audit: postgres dsn required")
		}
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
}

// Archive persists request snapshots and block summaries for later audit.
type Archive struct {
	db  *gorm.DB
	now func() time.Time
}

// NewArchive migrates the schema and returns the archive.
func NewArchive(db *gorm.DB) (*Archive, error) {
	if db == nil {
		return nil, errors.New("audit: db is required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Archive{db: db, now: time.Now}, nil
}

// Record stores the block report and the latest snapshot of every changed
// request in one transaction.
func (a *Archive) Record(ctx context.Context, report *withdrawals.Report, stateRoot string, changed []*withdrawals.Request) error {
	if a == nil {
		return nil
	}
	if report == nil {
		return errors.New("audit: report is required")
	}
	now := a.now().UTC()
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(changed) > 0 {
			records := make([]RequestRecord, 0, len(changed))
			for _, req := range changed {
				records = append(records, requestRecord(req, now))
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&records).Error
			if err != nil {
				return fmt.Errorf("audit: upsert requests: %w", err)
			}
		}
		block := BlockRecord{
			Height:      report.Height,
			CoreHeight:  report.CoreHeight,
			StateRoot:   stateRoot,
			Pooled:      report.Pooled,
			Broadcasted: report.Broadcasted,
			Rebroadcast: report.Rebroadcast,
			Expired:     report.Expired,
			Completed:   report.Completed,
			Failed:      report.Failed,
			Locked:      report.Locked,
			Released:    report.Released,
			Remaining:   report.Remaining,
			WindowStart: report.WindowStart,
			Committed:   report.Committed,
			Paused:      report.Paused,
			Skipped:     strings.Join(report.Skipped, "; "),
			ProcessedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&block).Error; err != nil {
			return fmt.Errorf("audit: insert block: %w", err)
		}
		return nil
	})
}

// RecordRequest archives a single snapshot, used for freshly submitted intents.
func (a *Archive) RecordRequest(ctx context.Context, req *withdrawals.Request) error {
	if a == nil || req == nil {
		return nil
	}
	record := requestRecord(req, a.now().UTC())
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("audit: upsert request: %w", err)
	}
	return nil
}

// Request loads the archived snapshot for id.
func (a *Archive) Request(ctx context.Context, id withdrawals.RequestID) (*RequestRecord, error) {
	var record RequestRecord
	err := a.db.WithContext(ctx).Where("id = ?", id.String()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, withdrawals.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit: load request: %w", err)
	}
	return &record, nil
}

// Blocks returns block summaries with heights in [from, to].
func (a *Archive) Blocks(ctx context.Context, from, to uint64) ([]BlockRecord, error) {
	var blocks []BlockRecord
	err := a.db.WithContext(ctx).
		Where("height BETWEEN ? AND ?", from, to).
		Order("height ASC").
		Find(&blocks).Error
	if err != nil {
		return nil, fmt.Errorf("audit: load blocks: %w", err)
	}
	return blocks, nil
}

// Settlements returns requests completed at platform heights in [from, to].
func (a *Archive) Settlements(ctx context.Context, from, to uint64) ([]SettlementRow, error) {
	var records []RequestRecord
	err := a.db.WithContext(ctx).
		Where("status = ? AND completed_at BETWEEN ? AND ?", withdrawals.StatusComplete.String(), from, to).
		Order("completed_at ASC, seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("audit: load settlements: %w", err)
	}
	rows := make([]SettlementRow, 0, len(records))
	for _, record := range records {
		var index uint64
		if record.TxIndex != nil {
			index = *record.TxIndex
		}
		rows = append(rows, SettlementRow{
			RequestID:   record.ID,
			Owner:       record.Owner,
			Amount:      record.Amount,
			Destination: record.Destination,
			TxIndex:     index,
			Attempts:    record.Attempts,
			RequestedAt: record.CreatedHeight,
			BroadcastAt: record.BroadcastAt,
			CompletedAt: record.CompletedAt,
			CoreHeight:  record.CoreHeightAtBroadcast,
		})
	}
	return rows, nil
}

func requestRecord(req *withdrawals.Request, now time.Time) RequestRecord {
	record := RequestRecord{
		ID:                    req.ID.String(),
		Seq:                   req.Seq,
		Owner:                 crypto.FormatOwner(req.Owner),
		Amount:                req.Amount,
		Destination:           fmt.Sprintf("%x", req.Destination),
		Status:                req.Status.String(),
		PooledAt:              req.PooledAt,
		BroadcastAt:           req.BroadcastAt,
		ExpiryDeadline:        req.ExpiryDeadline,
		CoreHeightAtBroadcast: req.CoreHeightAtBroadcast,
		CompletedAt:           req.CompletedAt,
		Attempts:              req.Attempts,
		CreatedHeight:         req.CreatedAt,
		UpdatedHeight:         req.UpdatedAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.HasIndex {
		index := req.TxIndex
		record.TxIndex = &index
	}
	return record
}
