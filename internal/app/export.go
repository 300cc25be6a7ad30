/**
 * @description
 * CSV export of payout batch items for finance reconciliation. Stored rows are
 * read as column maps so every stored field is exported, with legacy and
 * camelCase column names folded onto one canonical header.
 *
 * @dependencies
 * - github.com/gosimple/slug: attachment filenames.
 * - github.com/sirupsen/logrus: structured logging.
 */
package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
)

// BatchItemColumns is the canonical header order of the export.
var BatchItemColumns = []string{
	"id",
	"batch_id",
	"user_id",
	"cycle_setting_id",
	"cycle_winner_selection_id",
	"amount",
	"currency",
	"status",
	"failure_reason",
	"recipient_email",
	"provider_item_id",
	"paid_at",
	"created_at",
	"updated_at",
}

// columnAliases maps legacy names (after snake_case folding) to canonical ones.
var columnAliases = map[string]string{
	"amount_cents":        "amount",
	"email":               "recipient_email",
	"recipient":           "recipient_email",
	"cycle_id":            "cycle_setting_id",
	"selection_id":        "cycle_winner_selection_id",
	"winner_selection_id": "cycle_winner_selection_id",
	"paypal_item_id":      "provider_item_id",
	"payout_item_id":      "provider_item_id",
	"error":               "failure_reason",
	"payout_batch_id":     "batch_id",
}

// CSVExport is a rendered batch export.
type CSVExport struct {
	Filename        string
	Content         []byte
	Rows            int
	ArchiveLocation string
}

// ExportService renders batch items as CSV and optionally archives them.
type ExportService struct {
	repo     ExportRepository
	archiver ObjectArchiver
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewExportService creates an export service. archiver may be nil.
func NewExportService(repo ExportRepository, archiver ObjectArchiver, log logrus.FieldLogger) *ExportService {
	return &ExportService{
		repo:     repo,
		archiver: archiver,
		log:      log.WithField("component", "export_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ExportBatchCSV renders every item of the batch. An archive failure is
// logged and does not fail the export.
func (s *ExportService) ExportBatchCSV(ctx context.Context, batchID uuid.UUID) (*CSVExport, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	columns, rows, err := s.repo.ListBatchItemRows(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteBatchItemsCSV(&buf, columns, rows); err != nil {
		return nil, err
	}

	label := batch.Label
	if strings.TrimSpace(label) == "" {
		label = "payout-batch-" + batch.ID.String()
	}
	export := &CSVExport{
		Filename: slug.Make(label) + "-items.csv",
		Content:  buf.Bytes(),
		Rows:     len(rows),
	}

	if s.archiver != nil {
		key := fmt.Sprintf("payout-batches/%s/items-%s.csv", batch.ID, s.now().Format("20060102T150405Z"))
		location, err := s.archiver.Put(ctx, key, "text/csv", export.Content)
		if err != nil {
			s.log.WithError(err).WithField("batch_id", batch.ID).Warn("failed to archive batch export")
		} else {
			export.ArchiveLocation = location
		}
	}
	return export, nil
}

// WriteBatchItemsCSV writes the canonical columns first, then any other stored
// column in name order.
func WriteBatchItemsCSV(w io.Writer, columns []string, rows []map[string]interface{}) error {
	canonical := make(map[string]bool, len(BatchItemColumns))
	for _, c := range BatchItemColumns {
		canonical[c] = true
	}

	sourceFor := map[string]string{}
	extras := []string{}
	seen := map[string]bool{}
	addSource := func(column string) {
		name := canonicalColumn(column)
		if _, ok := sourceFor[name]; !ok || column == name {
			sourceFor[name] = column
		}
		if !canonical[name] && !seen[name] {
			seen[name] = true
			extras = append(extras, name)
		}
	}
	for _, c := range columns {
		addSource(c)
	}
	for _, row := range rows {
		for c := range row {
			addSource(c)
		}
	}
	sort.Strings(extras)

	header := append(append([]string{}, BatchItemColumns...), extras...)
	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, name := range header {
			source, ok := sourceFor[name]
			if !ok {
				continue
			}
			record[i] = formatCell(lookupCell(row, name, source))
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func lookupCell(row map[string]interface{}, canonical, source string) interface{} {
	if v, ok := row[canonical]; ok && v != nil {
		return v
	}
	if v, ok := row[source]; ok && v != nil {
		return v
	}
	for k, v := range row {
		if v != nil && canonicalColumn(k) == canonical {
			return v
		}
	}
	return nil
}

// canonicalColumn folds camelCase and aliases onto the canonical snake_case name.
func canonicalColumn(name string) string {
	snake := toSnakeCase(strings.TrimSpace(name))
	if alias, ok := columnAliases[snake]; ok {
		return alias
	}
	return snake
}

func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatCell(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case *string:
		if value == nil {
			return ""
		}
		return *value
	case int64:
		return strconv.FormatInt(value, 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int:
		return strconv.Itoa(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	case *time.Time:
		if value == nil {
			return ""
		}
		return value.UTC().Format(time.RFC3339)
	case uuid.UUID:
		return value.String()
	case [16]byte:
		return uuid.UUID(value).String()
	case []byte:
		return hex.EncodeToString(value)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}
