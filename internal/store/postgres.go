package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type userModel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PublicKey string    `gorm:"column:public_key;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

type callResourceModel struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name              string    `gorm:"column:name"`
	Description       string    `gorm:"column:description"`
	GeneratedEndpoint string    `gorm:"column:generated_endpoint;uniqueIndex"`
	ServiceURL        string    `gorm:"column:service_url"`
	Method            string    `gorm:"column:method"`
	PricePerRequest   float64   `gorm:"column:price_per_request"`
	AmountGenerated   float64   `gorm:"column:amount_generated"`
	OwnerID           uuid.UUID `gorm:"column:owner_id;type:uuid;index"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (callResourceModel) TableName() string { return "call_resources" }

type streamResourceModel struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name              string    `gorm:"column:name"`
	GeneratedEndpoint string    `gorm:"column:generated_endpoint;uniqueIndex"`
	ServiceURL        string    `gorm:"column:service_url"`
	OwnerID           uuid.UUID `gorm:"column:owner_id;type:uuid;index"`
	PricePerMinute    float64   `gorm:"column:price_per_minute"`
	BillingMode       string    `gorm:"column:billing_mode"`
	SessionTTLSeconds int       `gorm:"column:session_ttl_seconds"`
	AmountGenerated   float64   `gorm:"column:amount_generated"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (streamResourceModel) TableName() string { return "stream_resources" }

type settlementRecordModel struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ResourceKind string    `gorm:"column:resource_kind"`
	ResourceID   uuid.UUID `gorm:"column:resource_id;type:uuid;index"`
	Amount       float64   `gorm:"column:amount"`
	Status       string    `gorm:"column:status"`
	Receipt      string    `gorm:"column:receipt"`
	Payer        string    `gorm:"column:payer"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (settlementRecordModel) TableName() string { return "settlement_records" }

// Postgres is the GORM-backed Store implementation.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects to the database and runs schema migration.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&userModel{}, &callResourceModel{}, &streamResourceModel{}, &settlementRecordModel{}); err != nil {
		return nil, err
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, publicKey string) (*User, error) {
	var m userModel
	err := p.db.WithContext(ctx).Where("public_key = ?", publicKey).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = userModel{ID: uuid.New(), PublicKey: publicKey}
		if err := p.db.WithContext(ctx).Create(&m).Error; err != nil {
			// Concurrent upsert for the same key loses the race; re-read.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				if err := p.db.WithContext(ctx).Where("public_key = ?", publicKey).First(&m).Error; err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}
	return userFromModel(&m), nil
}

func (p *Postgres) GetUserByPublicKey(ctx context.Context, publicKey string) (*User, error) {
	var m userModel
	if err := p.db.WithContext(ctx).Where("public_key = ?", publicKey).First(&m).Error; err != nil {
		return nil, translateErr(err)
	}
	return userFromModel(&m), nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var m userModel
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateErr(err)
	}
	return userFromModel(&m), nil
}

func (p *Postgres) CreateCallResource(ctx context.Context, res *CallResource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	m := callResourceModel{
		ID:                res.ID,
		Name:              res.Name,
		Description:       res.Description,
		GeneratedEndpoint: res.GeneratedEndpoint,
		ServiceURL:        res.ServiceURL,
		Method:            res.Method,
		PricePerRequest:   res.PricePerRequest,
		AmountGenerated:   res.AmountGenerated,
		OwnerID:           res.OwnerID,
	}
	if err := p.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translateErr(err)
	}
	res.CreatedAt = m.CreatedAt
	res.UpdatedAt = m.UpdatedAt
	return nil
}

func (p *Postgres) GetCallResource(ctx context.Context, generatedEndpoint string) (*CallResource, error) {
	var m callResourceModel
	if err := p.db.WithContext(ctx).Where("generated_endpoint = ?", generatedEndpoint).First(&m).Error; err != nil {
		return nil, translateErr(err)
	}
	return callFromModel(&m), nil
}

func (p *Postgres) RecentCallResources(ctx context.Context, ownerID uuid.UUID, limit int) ([]CallResource, error) {
	var models []callResourceModel
	q := p.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]CallResource, 0, len(models))
	for i := range models {
		out = append(out, *callFromModel(&models[i]))
	}
	return out, nil
}

func (p *Postgres) AddCallRevenue(ctx context.Context, id uuid.UUID, amount float64) error {
	res := p.db.WithContext(ctx).Model(&callResourceModel{}).
		Where("id = ?", id).
		UpdateColumn("amount_generated", gorm.Expr("amount_generated + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateStreamResource(ctx context.Context, res *StreamResource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	m := streamResourceModel{
		ID:                res.ID,
		Name:              res.Name,
		GeneratedEndpoint: res.GeneratedEndpoint,
		ServiceURL:        res.ServiceURL,
		OwnerID:           res.OwnerID,
		PricePerMinute:    res.PricePerMinute,
		BillingMode:       res.BillingMode,
		SessionTTLSeconds: res.SessionTTLSeconds,
		AmountGenerated:   res.AmountGenerated,
	}
	if err := p.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translateErr(err)
	}
	res.CreatedAt = m.CreatedAt
	res.UpdatedAt = m.UpdatedAt
	return nil
}

func (p *Postgres) GetStreamResource(ctx context.Context, generatedEndpoint string) (*StreamResource, error) {
	var m streamResourceModel
	if err := p.db.WithContext(ctx).Where("generated_endpoint = ?", generatedEndpoint).First(&m).Error; err != nil {
		return nil, translateErr(err)
	}
	return streamFromModel(&m), nil
}

func (p *Postgres) RecentStreamResources(ctx context.Context, ownerID uuid.UUID, limit int) ([]StreamResource, error) {
	var models []streamResourceModel
	q := p.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]StreamResource, 0, len(models))
	for i := range models {
		out = append(out, *streamFromModel(&models[i]))
	}
	return out, nil
}

func (p *Postgres) AddStreamRevenue(ctx context.Context, id uuid.UUID, amount float64) error {
	res := p.db.WithContext(ctx).Model(&streamResourceModel{}).
		Where("id = ?", id).
		UpdateColumn("amount_generated", gorm.Expr("amount_generated + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RecordSettlement(ctx context.Context, rec *SettlementRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m := settlementRecordModel{
		ID:           rec.ID,
		ResourceKind: rec.ResourceKind,
		ResourceID:   rec.ResourceID,
		Amount:       rec.Amount,
		Status:       rec.Status,
		Receipt:      rec.Receipt,
		Payer:        rec.Payer,
	}
	if err := p.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	rec.CreatedAt = m.CreatedAt
	return nil
}

func translateErr(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

func userFromModel(m *userModel) *User {
	return &User{ID: m.ID, PublicKey: m.PublicKey, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func callFromModel(m *callResourceModel) *CallResource {
	return &CallResource{
		ID:                m.ID,
		Name:              m.Name,
		Description:       m.Description,
		GeneratedEndpoint: m.GeneratedEndpoint,
		ServiceURL:        m.ServiceURL,
		Method:            m.Method,
		PricePerRequest:   m.PricePerRequest,
		AmountGenerated:   m.AmountGenerated,
		OwnerID:           m.OwnerID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func streamFromModel(m *streamResourceModel) *StreamResource {
	return &StreamResource{
		ID:                m.ID,
		Name:              m.Name,
		GeneratedEndpoint: m.GeneratedEndpoint,
		ServiceURL:        m.ServiceURL,
		OwnerID:           m.OwnerID,
		PricePerMinute:    m.PricePerMinute,
		BillingMode:       m.BillingMode,
		SessionTTLSeconds: m.SessionTTLSeconds,
		AmountGenerated:   m.AmountGenerated,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
