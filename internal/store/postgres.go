package store

import (
	"time"

	"main/pkg/conn"

	"github.com/yanun0323/errors"
	"gorm.io/gorm/clause"
)

// sessionRow is the gorm model backing the postgres store.
type sessionRow struct {
	Name        string `gorm:"primaryKey;size:128"`
	OutboundSeq uint64
	InboundSeq  uint64
	LastLogon   time.Time
	UpdatedAt   time.Time
}

func (sessionRow) TableName() string { return "fix_sessions" }

// Postgres persists session records in a shared PostgreSQL table, for
// deployments where several hosts need the same view of sequencing state.
type Postgres struct {
	client *conn.Client
}

// NewPostgres connects and migrates the session table.
func NewPostgres(opt conn.Option) (*Postgres, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres store")
	}
	if err := client.DB().AutoMigrate(&sessionRow{}); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "migrate session table")
	}
	return &Postgres{client: client}, nil
}

func (p *Postgres) Load(name string) (Record, bool, error) {
	var row sessionRow
	result := p.client.DB().Limit(1).Find(&row, "name = ?", name)
	if result.Error != nil {
		return Record{}, false, errors.Wrap(result.Error, "load session record").With("session", name)
	}
	if result.RowsAffected == 0 {
		return Record{}, false, nil
	}
	return Record{
		OutboundSeq: row.OutboundSeq,
		InboundSeq:  row.InboundSeq,
		LastLogon:   row.LastLogon,
	}, true, nil
}

func (p *Postgres) Save(name string, rec Record) error {
	row := sessionRow{
		Name:        name,
		OutboundSeq: rec.OutboundSeq,
		InboundSeq:  rec.InboundSeq,
		LastLogon:   rec.LastLogon,
	}
	err := p.client.DB().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"outbound_seq", "inbound_seq", "last_logon", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "save session record").With("session", name)
	}
	return nil
}

func (p *Postgres) Flush() error { return nil }

func (p *Postgres) Close() error { return p.client.Close() }
