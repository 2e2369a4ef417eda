package audit

import (
	"time"

	"gorm.io/gorm"
)

// RequestRecord is the archived snapshot of a withdrawal request. It is
// upserted every time the request changes.
type RequestRecord struct {
	ID                    string `gorm:"primaryKey;size:64"`
	Seq                   uint64 `gorm:"uniqueIndex"`
	Owner                 string `gorm:"index"`
	Amount                uint64 `gorm:"not null"`
	Destination           string
	Status                string `gorm:"index;size:16"`
	TxIndex               *uint64
	PooledAt              uint64
	BroadcastAt           uint64
	ExpiryDeadline        uint64
	CoreHeightAtBroadcast uint64
	CompletedAt           uint64 `gorm:"index"`
	Attempts              uint32
	CreatedHeight         uint64
	UpdatedHeight         uint64 `gorm:"index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// BlockRecord captures one processed block.
type BlockRecord struct {
	Height      uint64 `gorm:"primaryKey;autoIncrement:false"`
	CoreHeight  uint64
	StateRoot   string `gorm:"size:66"`
	Pooled      int
	Broadcasted int
	Rebroadcast int
	Expired     int
	Completed   int
	Failed      int
	Locked      uint64
	Released    uint64
	Remaining   uint64
	WindowStart uint64
	Committed   uint64
	Paused      bool
	Skipped     string
	ProcessedAt time.Time `gorm:"index"`
}

// AutoMigrate creates or updates the archive tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&RequestRecord{}, &BlockRecord{})
}
