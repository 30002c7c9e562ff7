package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cryptogateway/internal/amount"
	"cryptogateway/internal/domain"
)

func now() time.Time { return time.Now().UTC() }

func formatInvoicePaid(decimals uint8, paidRaw *uint256.Int) (string, error) {
	return amount.FormatUnits(paidRaw, decimals)
}

// Postgres is the production Store backend, grounded in
// services/otc-gateway/funding.Processor's transaction discipline: every
// read-modify-write sequence runs inside db.Transaction with a
// SELECT ... FOR UPDATE row lock, so concurrent scanners/reconcilers never
// race on the same invoice or payment.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres wraps an already-connected *gorm.DB. Callers run AutoMigrate
// themselves before handing the DB here.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Chains ---

func (p *Postgres) AddChain(ctx context.Context, cfg *domain.ChainConfig) error {
	row := chainToRow(cfg)
	err := p.db.WithContext(ctx).Create(&row).Error
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetChain(ctx context.Context, name string) (*domain.ChainConfig, error) {
	var row chainRow
	if err := p.db.WithContext(ctx).First(&row, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cfg := chainFromRow(row)
	if err := p.hydrateChain(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Postgres) hydrateChain(ctx context.Context, cfg *domain.ChainConfig) error {
	addrs, err := p.WatchAddresses(ctx, cfg.Name)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		cfg.AddWatchAddress(a)
	}
	tokens, err := p.ListTokens(ctx, cfg.Name)
	if err != nil {
		return err
	}
	cfg.SetTokens(tokens)
	return nil
}

func (p *Postgres) ListChains(ctx context.Context) ([]*domain.ChainConfig, error) {
	var rows []chainRow
	if err := p.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ChainConfig, 0, len(rows))
	for _, r := range rows {
		cfg := chainFromRow(r)
		if err := p.hydrateChain(ctx, cfg); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (p *Postgres) RemoveChain(ctx context.Context, name string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&invoiceRow{}).Where("network = ? AND status = ?", name, string(domain.InvoiceStatusPending)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrInUse
		}
		res := tx.Delete(&chainRow{}, "name = ?", name)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		tx.Delete(&tokenRow{}, "network = ?", name)
		tx.Delete(&watchAddressRow{}, "network = ?", name)
		return nil
	})
}

func (p *Postgres) UpdateChainPartial(ctx context.Context, name string, patch domain.PartialChainUpdate) (*domain.ChainConfig, error) {
	var out *domain.ChainConfig
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row chainRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "name = ?", name).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if patch.RPCURLs != nil {
			row.RPCURLs = joinURLs(patch.RPCURLs)
		}
		if patch.LastProcessedBlock != nil {
			row.LastProcessedBlock = *patch.LastProcessedBlock
		}
		if patch.Xpub != nil {
			row.Xpub = *patch.Xpub
		}
		if patch.BlockLag != nil {
			row.BlockLag = *patch.BlockLag
		}
		if patch.RequiredConfirmations != nil {
			row.RequiredConfirmations = *patch.RequiredConfirmations
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = chainFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := p.hydrateChain(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) SetLastProcessedBlock(ctx context.Context, network string, block uint64) error {
	res := p.db.WithContext(ctx).Model(&chainRow{}).Where("name = ?", network).Update("last_processed_block", block)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tokens ---

func (p *Postgres) AddToken(ctx context.Context, network string, token domain.TokenConfig) error {
	row := tokenRow{Network: network, Symbol: token.Symbol, Contract: token.Contract, Decimals: token.Decimals}
	err := p.db.WithContext(ctx).Create(&row).Error
	if isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) GetToken(ctx context.Context, network, symbol string) (*domain.TokenConfig, error) {
	var row tokenRow
	if err := p.db.WithContext(ctx).First(&row, "network = ? AND symbol = ?", network, symbol).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &domain.TokenConfig{Symbol: row.Symbol, Contract: row.Contract, Decimals: row.Decimals}, nil
}

func (p *Postgres) ListTokens(ctx context.Context, network string) ([]domain.TokenConfig, error) {
	var rows []tokenRow
	if err := p.db.WithContext(ctx).Where("network = ?", network).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TokenConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TokenConfig{Symbol: r.Symbol, Contract: r.Contract, Decimals: r.Decimals})
	}
	return out, nil
}

func (p *Postgres) RemoveToken(ctx context.Context, network, symbol string) error {
	res := p.db.WithContext(ctx).Delete(&tokenRow{}, "network = ? AND symbol = ?", network, symbol)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Watch set ---

func (p *Postgres) AddWatchAddress(ctx context.Context, network, address string) error {
	row := watchAddressRow{Network: network, Address: address}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	return err
}

func (p *Postgres) RemoveWatchAddress(ctx context.Context, network, address string) error {
	return p.db.WithContext(ctx).Delete(&watchAddressRow{}, "network = ? AND address = ?", network, address).Error
}

func (p *Postgres) WatchAddresses(ctx context.Context, network string) ([]string, error) {
	var rows []watchAddressRow
	if err := p.db.WithContext(ctx).Where("network = ?", network).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Address)
	}
	return out, nil
}

// --- Invoices ---

func (p *Postgres) AddInvoice(ctx context.Context, inv *domain.Invoice) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := invoiceToRow(inv)
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicateErr(err) {
				return ErrDuplicate
			}
			return err
		}
		watch := watchAddressRow{Network: inv.Network, Address: inv.Address}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&watch).Error
	})
}

func (p *Postgres) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var row invoiceRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return invoiceFromRow(row)
}

func (p *Postgres) GetInvoiceByAddress(ctx context.Context, network, address string) (*domain.Invoice, error) {
	var row invoiceRow
	err := p.db.WithContext(ctx).
		Where("network = ? AND address = ?", network, address).
		Order("created_at desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return invoiceFromRow(row)
}

func (p *Postgres) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]*domain.Invoice, error) {
	q := p.db.WithContext(ctx).Model(&invoiceRow{})
	if filter.Address != "" {
		q = q.Where("address = ?", filter.Address)
	}
	if filter.Network != "" {
		q = q.Where("network = ?", filter.Network)
	}
	if filter.Token != "" {
		q = q.Where("token = ?", filter.Token)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	q = q.Order("created_at desc").Limit(clampLimit(filter.Pagination.Limit)).Offset(int(filter.Pagination.Offset))
	var rows []invoiceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Invoice, 0, len(rows))
	for _, r := range rows {
		inv, err := invoiceFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (p *Postgres) CancelInvoice(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row invoiceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if domain.InvoiceStatus(row.Status).Terminal() {
			return ErrConflict
		}
		row.Status = string(domain.InvoiceStatusCancelled)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return tx.Delete(&watchAddressRow{}, "network = ? AND address = ?", row.Network, row.Address).Error
	})
}

func (p *Postgres) ExpireDueInvoices(ctx context.Context, now time.Time) ([]*domain.Invoice, error) {
	var expired []*domain.Invoice
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []invoiceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND expires_at < ?", string(domain.InvoiceStatusPending), now).
			Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			// amount_raw/paid_raw are decimal strings; a SQL string compare
			// isn't numerically correct, so the paid_raw < amount_raw guard
			// runs here in Go via domain.Invoice.FullyPaid() instead of in
			// the WHERE clause above.
			inv, err := invoiceFromRow(rows[i])
			if err != nil {
				return err
			}
			if inv.FullyPaid() {
				continue
			}
			rows[i].Status = string(domain.InvoiceStatusExpired)
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
			if err := tx.Delete(&watchAddressRow{}, "network = ? AND address = ?", rows[i].Network, rows[i].Address).Error; err != nil {
				return err
			}
			inv.Status = domain.InvoiceStatusExpired
			expired = append(expired, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (p *Postgres) GetFreeSlot(ctx context.Context, network string) (uint32, bool, error) {
	var busy []uint32
	err := p.db.WithContext(ctx).Model(&invoiceRow{}).
		Where("network = ? AND status = ?", network, string(domain.InvoiceStatusPending)).
		Pluck("address_index", &busy).Error
	if err != nil {
		return 0, false, err
	}
	used := make(map[uint32]struct{}, len(busy))
	for _, idx := range busy {
		used[idx] = struct{}{}
	}
	for i := uint32(0); i < ^uint32(0); i++ {
		if _, taken := used[i]; !taken {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// --- Payments ---

func (p *Postgres) RecordPayment(ctx context.Context, event domain.PaymentEvent) (domain.InsertResult, *domain.Invoice, error) {
	var result domain.InsertResult
	var outInvoice *domain.Invoice
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing paymentRow
		err := tx.Where("network = ? AND tx_hash = ? AND log_index = ?", event.Network, event.TxHash, event.LogIndex).
			First(&existing).Error
		if err == nil {
			result = domain.AlreadyPresent
			var invRow invoiceRow
			if ferr := tx.First(&invRow, "id = ?", existing.InvoiceID).Error; ferr == nil {
				inv, cerr := invoiceFromRow(invRow)
				if cerr != nil {
					return cerr
				}
				outInvoice = inv
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var invRow invoiceRow
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("network = ? AND address = ? AND status = ?", event.Network, event.To, string(domain.InvoiceStatusPending)).
			Order("created_at desc").
			First(&invRow).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = domain.NoMatchingInvoice
			return nil
		}
		if err != nil {
			return err
		}

		tokenMatches := invRow.Token == event.Token && invRow.Network == event.Network
		if !tokenMatches {
			result = domain.InvoiceMismatch
			inv, cerr := invoiceFromRow(invRow)
			if cerr != nil {
				return cerr
			}
			outInvoice = inv
			return nil
		}

		payment := domain.Payment{
			ID:          uuid.NewString(),
			InvoiceID:   invRow.ID,
			From:        event.From,
			To:          event.To,
			Network:     event.Network,
			Token:       event.Token,
			TxHash:      event.TxHash,
			AmountRaw:   event.AmountRaw,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Status:      domain.PaymentStatusConfirming,
			CreatedAt:   now(),
		}
		payRow := paymentToRow(&payment)
		if err := tx.Create(&payRow).Error; err != nil {
			if isDuplicateErr(err) {
				result = domain.AlreadyPresent
				return nil
			}
			return err
		}

		paidRaw, err := decToUint256(invRow.PaidRaw)
		if err != nil {
			return err
		}
		paidRaw = new(uint256.Int).Add(paidRaw, amountOrZero(event.AmountRaw))
		invRow.PaidRaw = paidRaw.Dec()
		formatted, err := formatInvoicePaid(invRow.Decimals, paidRaw)
		if err != nil {
			return err
		}
		invRow.Paid = formatted
		if err := tx.Save(&invRow).Error; err != nil {
			return err
		}

		result = domain.Inserted
		inv, cerr := invoiceFromRow(invRow)
		if cerr != nil {
			return cerr
		}
		outInvoice = inv
		return nil
	})
	if err != nil {
		return domain.AlreadyPresent, nil, err
	}
	return result, outInvoice, nil
}

func (p *Postgres) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var row paymentRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return paymentFromRow(row)
}

func (p *Postgres) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]*domain.Payment, error) {
	q := p.db.WithContext(ctx).Model(&paymentRow{})
	if filter.InvoiceID != "" {
		q = q.Where("invoice_id = ?", filter.InvoiceID)
	}
	if filter.From != "" {
		q = q.Where(`"from" = ?`, filter.From)
	}
	if filter.To != "" {
		q = q.Where(`"to" = ?`, filter.To)
	}
	if filter.Network != "" {
		q = q.Where("network = ?", filter.Network)
	}
	if filter.Token != "" {
		q = q.Where("token = ?", filter.Token)
	}
	if filter.BlockNumber != nil {
		q = q.Where("block_number = ?", *filter.BlockNumber)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	q = q.Order("created_at desc").Limit(clampLimit(filter.Pagination.Limit)).Offset(int(filter.Pagination.Offset))
	var rows []paymentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Payment, 0, len(rows))
	for _, r := range rows {
		pay, err := paymentFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, nil
}

func (p *Postgres) ListConfirmingPayments(ctx context.Context, network string, maxBlock uint64) ([]*domain.Payment, error) {
	var rows []paymentRow
	err := p.db.WithContext(ctx).
		Where("network = ? AND status = ? AND block_number <= ?", network, string(domain.PaymentStatusConfirming), maxBlock).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Payment, 0, len(rows))
	for _, r := range rows {
		pay, err := paymentFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, nil
}

func (p *Postgres) ConfirmPayment(ctx context.Context, paymentID string, head uint64, strict bool) (*domain.Payment, *domain.Invoice, bool, error) {
	var outPayment *domain.Payment
	var outInvoice *domain.Invoice
	becamePaid := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payRow paymentRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payRow, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		payRow.Status = string(domain.PaymentStatusConfirmed)
		if err := tx.Save(&payRow).Error; err != nil {
			return err
		}
		pay, err := paymentFromRow(payRow)
		if err != nil {
			return err
		}
		outPayment = pay

		var invRow invoiceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&invRow, "id = ?", payRow.InvoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if invRow.Status != string(domain.InvoiceStatusPending) {
			inv, err := invoiceFromRow(invRow)
			if err != nil {
				return err
			}
			outInvoice = inv
			return nil
		}

		statuses := []string{string(domain.PaymentStatusConfirmed)}
		if !strict {
			statuses = append(statuses, string(domain.PaymentStatusConfirming))
		}
		var linked []paymentRow
		if err := tx.Where("invoice_id = ? AND status IN ?", invRow.ID, statuses).Find(&linked).Error; err != nil {
			return err
		}
		total := uint256.NewInt(0)
		for _, l := range linked {
			amt, err := decToUint256(l.AmountRaw)
			if err != nil {
				return err
			}
			total = new(uint256.Int).Add(total, amt)
		}
		amountRaw, err := decToUint256(invRow.AmountRaw)
		if err != nil {
			return err
		}
		inv, err := invoiceFromRow(invRow)
		if err != nil {
			return err
		}
		if total.Cmp(amountRaw) >= 0 {
			invRow.Status = string(domain.InvoiceStatusPaid)
			if err := tx.Save(&invRow).Error; err != nil {
				return err
			}
			if err := tx.Delete(&watchAddressRow{}, "network = ? AND address = ?", invRow.Network, invRow.Address).Error; err != nil {
				return err
			}
			becamePaid = true
			inv, err = invoiceFromRow(invRow)
			if err != nil {
				return err
			}
		}
		outInvoice = inv
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return outPayment, outInvoice, becamePaid, nil
}

func (p *Postgres) CancelPayment(ctx context.Context, paymentID string) (*domain.Payment, *domain.Invoice, error) {
	var outPayment *domain.Payment
	var outInvoice *domain.Invoice
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payRow paymentRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payRow, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if payRow.Status == string(domain.PaymentStatusCancelled) {
			return ErrConflict
		}

		var invRow invoiceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&invRow, "id = ?", payRow.InvoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if domain.InvoiceStatus(invRow.Status).Terminal() {
			return ErrConflict
		}

		payRow.Status = string(domain.PaymentStatusCancelled)
		if err := tx.Save(&payRow).Error; err != nil {
			return err
		}
		pay, err := paymentFromRow(payRow)
		if err != nil {
			return err
		}
		outPayment = pay

		var linked []paymentRow
		if err := tx.Where("invoice_id = ? AND status IN ?", invRow.ID, []string{
			string(domain.PaymentStatusConfirming), string(domain.PaymentStatusConfirmed),
		}).Find(&linked).Error; err != nil {
			return err
		}
		total := uint256.NewInt(0)
		for _, l := range linked {
			amt, err := decToUint256(l.AmountRaw)
			if err != nil {
				return err
			}
			total = new(uint256.Int).Add(total, amt)
		}
		invRow.PaidRaw = total.Dec()
		formatted, err := formatInvoicePaid(invRow.Decimals, total)
		if err != nil {
			return err
		}
		invRow.Paid = formatted
		if err := tx.Save(&invRow).Error; err != nil {
			return err
		}
		inv, err := invoiceFromRow(invRow)
		if err != nil {
			return err
		}
		outInvoice = inv
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outPayment, outInvoice, nil
}

// --- Webhooks ---

func (p *Postgres) EnqueueWebhook(ctx context.Context, wh *domain.Webhook) error {
	row, err := webhookToRow(wh)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *Postgres) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	var row webhookRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return webhookFromRow(row)
}

func (p *Postgres) ListWebhooks(ctx context.Context, filter domain.WebhookFilter) ([]*domain.Webhook, error) {
	q := p.db.WithContext(ctx).Model(&webhookRow{})
	if filter.InvoiceID != "" {
		q = q.Where("invoice_id = ?", filter.InvoiceID)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.URL != "" {
		q = q.Where("url = ?", filter.URL)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	q = q.Order("created_at desc").Limit(clampLimit(filter.Pagination.Limit)).Offset(int(filter.Pagination.Offset))
	var rows []webhookRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Webhook, 0, len(rows))
	for _, r := range rows {
		wh, err := webhookFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, nil
}

func (p *Postgres) ClaimDueWebhooks(ctx context.Context, now time.Time, limit int) ([]*domain.Webhook, error) {
	var claimed []*domain.Webhook
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []webhookRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_retry <= ?", string(domain.WebhookStatusPending), now).
			Order("created_at").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].Status = string(domain.WebhookStatusProcessing)
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
			wh, err := webhookFromRow(rows[i])
			if err != nil {
				return err
			}
			claimed = append(claimed, wh)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (p *Postgres) MarkWebhookSent(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Model(&webhookRow{}).Where("id = ?", id).Update("status", string(domain.WebhookStatusSent))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkWebhookFailed(ctx context.Context, id string, nextRetry time.Time, status domain.WebhookStatus) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row webhookRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		row.Attempts++
		row.NextRetry = nextRetry
		row.Status = string(status)
		return tx.Save(&row).Error
	})
}

func (p *Postgres) CancelWebhook(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Model(&webhookRow{}).Where("id = ?", id).Update("status", string(domain.WebhookStatusCancelled))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Idempotency + audit ---

func (p *Postgres) LookupIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var row idempotencyRow
	if err := p.db.WithContext(ctx).First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &IdempotencyRecord{
		Key:          row.Key,
		RequestHash:  row.RequestHash,
		InvoiceID:    row.InvoiceID,
		ResponseBody: row.ResponseBody,
	}, nil
}

func (p *Postgres) SaveIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	row := idempotencyRow{
		Key:          rec.Key,
		RequestHash:  rec.RequestHash,
		InvoiceID:    rec.InvoiceID,
		ResponseBody: rec.ResponseBody,
		CreatedAt:    now(),
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	return err
}

func (p *Postgres) InsertAudit(ctx context.Context, entry AuditEntry) error {
	row := auditRow{
		OccurredAt:     entry.OccurredAt,
		Method:         entry.Method,
		Path:           entry.Path,
		RequestBody:    entry.RequestBody,
		ResponseStatus: entry.ResponseStatus,
		ResponseBody:   entry.ResponseBody,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func clampLimit(limit uint32) int {
	if limit == 0 || limit > 100 {
		return 20
	}
	return int(limit)
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
