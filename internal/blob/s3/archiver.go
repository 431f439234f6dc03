package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wagerlab/escrowd/internal/domain"
)

// archiveBatchSize caps how many settled bets one archive pass exports.
const archiveBatchSize = 5000

// SettledBetStore provides read access to settled bets for archival. The
// Postgres BetStore satisfies it through ListSettledBefore.
type SettledBetStore interface {
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]domain.Bet, error)
}

// AuditReadStore provides read access to audit entries for archival.
type AuditReadStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for old
// records, serialising them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	bets   SettledBetStore
	audit  AuditReadStore
	log    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, bets SettledBetStore, audit AuditReadStore, log domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, bets: bets, audit: audit, log: log}
}

// betRecord is the JSONL shape for an archived bet.
type betRecord struct {
	BetNumber      int64     `json:"bet_number"`
	Maker          string    `json:"maker"`
	Taker          string    `json:"taker"`
	Arbiter        string    `json:"arbiter"`
	Token          string    `json:"token"`
	Amount         string    `json:"amount"`
	AnchoredAt     time.Time `json:"anchored_at"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	ProtocolFeeBps int64     `json:"protocol_fee_bps"`
	ArbiterFeeBps  int64     `json:"arbiter_fee_bps"`
	ArbiterPaid    bool      `json:"arbiter_paid"`
	CanSettleEarly bool      `json:"can_settle_early"`
	Agreement      string    `json:"agreement"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ArchiveSettledBets exports terminal bets last touched before the cutoff
// to archive/bets/YYYY-MM.jsonl and records the export in the audit log.
// It returns the number of archived records.
func (a *ArchiveImpl) ArchiveSettledBets(ctx context.Context, before time.Time) (int64, error) {
	bets, err := a.bets.ListSettledBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled bets query: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}

	records := make([]betRecord, 0, len(bets))
	for _, b := range bets {
		records = append(records, betRecord{
			BetNumber:      b.BetNumber,
			Maker:          b.Maker.Hex(),
			Taker:          b.Taker.Hex(),
			Arbiter:        b.Arbiter.Hex(),
			Token:          b.TokenAddress.Hex(),
			Amount:         b.Amount.String(),
			AnchoredAt:     b.AnchoredAt,
			EndTime:        b.EndTime,
			Status:         string(b.Status),
			ProtocolFeeBps: b.ProtocolFeeBps,
			ArbiterFeeBps:  b.ArbiterFeeBps,
			ArbiterPaid:    b.ArbiterPaid,
			CanSettleEarly: b.CanSettleEarly,
			Agreement:      b.Agreement,
			CreatedAt:      b.CreatedAt,
			UpdatedAt:      b.UpdatedAt,
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled bets marshal: %w", err)
	}

	path := archivePath("bets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settled bets upload: %w", err)
	}

	count := int64(len(records))
	if err := a.log.Log(ctx, "archive.bets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settled bets audit log: %w", err)
	}
	return count, nil
}

// ArchiveAuditLog exports audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl. It returns the number of archived records.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.log.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log audit log: %w", err)
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
