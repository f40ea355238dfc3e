package rescale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/models"
	"github.com/finboard/business-stats-ledger/internal/shared"
)

// Operator selects how the scalar factor is applied.
type Operator string

const (
	Multiply Operator = "multiply"
	Divide   Operator = "divide"
)

func (o Operator) valid() bool {
	return o == Multiply || o == Divide
}

const (
	defaultBatchSize   = 100
	defaultParallelism = 4
)

// Converter rewrites every aggregate and every entry of a user under a scalar
// factor, business by business. Each business's aggregate update is one atomic
// step and its entries are rewritten in batched atomic groups, but the whole
// account is deliberately not one transaction: a failure partway leaves the
// already-converted businesses converted, reported via PartialConversionError.
//
// Re-running the same factor compounds. Nothing records "already converted";
// the caller owns triggering a conversion at most once.
type Converter struct {
	store       docstore.Store
	logger      *slog.Logger
	batchSize   int
	parallelism int
}

// Option customises a Converter.
type Option func(*Converter)

// WithBatchSize bounds how many entries one atomic group rewrites.
func WithBatchSize(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithParallelism bounds how many businesses convert concurrently.
func WithParallelism(n int) Option {
	return func(c *Converter) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// NewConverter constructs a bulk rescale operation over a document store.
func NewConverter(store docstore.Store, logger *slog.Logger, opts ...Option) *Converter {
	c := &Converter{
		store:       store,
		logger:      logger,
		batchSize:   defaultBatchSize,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result reports which businesses were fully converted.
type Result struct {
	Converted []string `json:"converted"`
	Currency  string   `json:"currency"`
}

type businessError struct {
	id  string
	err error
}

func (e *businessError) Error() string { return fmt.Sprintf("business %s: %v", e.id, e.err) }
func (e *businessError) Unwrap() error { return e.err }

// Rescale applies factor under op to every business aggregate and entry owned
// by userID, sets each business's currency code to targetCurrency, and finally
// records the code on the user's settings document.
func (c *Converter) Rescale(ctx context.Context, userID string, op Operator, factor decimal.Decimal, targetCurrency string) (Result, error) {
	if !op.valid() {
		return Result{}, shared.NewValidation("operator", `must be "multiply" or "divide"`)
	}
	if factor.Sign() <= 0 {
		return Result{}, shared.NewValidation("factor", "must be greater than zero")
	}
	if targetCurrency == "" {
		return Result{}, shared.NewValidation("currency", "must not be empty")
	}

	applyFactor := func(x decimal.Decimal) decimal.Decimal {
		if op == Divide {
			return x.Div(factor)
		}
		return x.Mul(factor)
	}

	businesses, err := c.store.List(ctx, docstore.BusinessCollection(userID), docstore.ListOptions{})
	if err != nil {
		return Result{}, err
	}

	var (
		mu        sync.Mutex
		converted []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, d := range businesses {
		businessID := d.ID
		g.Go(func() error {
			if err := c.convertBusiness(gctx, userID, businessID, applyFactor, targetCurrency); err != nil {
				return &businessError{id: businessID, err: err}
			}
			mu.Lock()
			converted = append(converted, businessID)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Strings(converted)
		perr := &shared.PartialConversionError{Converted: converted, Err: err}
		var berr *businessError
		if errors.As(err, &berr) {
			perr.Failed = berr.id
			perr.Err = berr.err
		}
		return Result{Converted: converted, Currency: targetCurrency}, perr
	}
	sort.Strings(converted)

	settings, err := json.Marshal(models.Settings{Currency: targetCurrency})
	if err != nil {
		return Result{Converted: converted}, err
	}
	if err := c.store.Write(ctx, docstore.SettingsPath(userID), settings, docstore.Merge); err != nil {
		return Result{Converted: converted, Currency: targetCurrency},
			fmt.Errorf("record currency code: %w", err)
	}

	c.logger.Info("bulk rescale complete",
		slog.String("user_id", userID),
		slog.String("operator", string(op)),
		slog.String("factor", factor.String()),
		slog.Int("businesses", len(converted)))
	return Result{Converted: converted, Currency: targetCurrency}, nil
}

func (c *Converter) convertBusiness(ctx context.Context, userID, businessID string, applyFactor func(decimal.Decimal) decimal.Decimal, currency string) error {
	bizPath := docstore.BusinessPath(userID, businessID)

	// The aggregate rewrite is its own atomic step.
	err := c.store.Atomic(ctx, []string{bizPath}, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
		snap := reads[bizPath]
		if !snap.Exists {
			return nil, shared.ErrAggregateNotFound
		}
		var biz models.Business
		if err := json.Unmarshal(snap.Data, &biz); err != nil {
			return nil, err
		}
		biz.Stats = models.Stats{
			TotalIncome:  applyFactor(biz.Stats.TotalIncome),
			TotalExpense: applyFactor(biz.Stats.TotalExpense),
			NetProfit:    applyFactor(biz.Stats.NetProfit),
		}
		biz.Currency = currency
		data, err := json.Marshal(biz)
		if err != nil {
			return nil, err
		}
		return []docstore.Write{{Path: bizPath, Data: data, Mode: docstore.Overwrite}}, nil
	})
	if err != nil {
		return err
	}

	entries, err := c.store.List(ctx, docstore.EntryCollection(userID, businessID), docstore.ListOptions{})
	if err != nil {
		return err
	}
	for start := 0; start < len(entries); start += c.batchSize {
		end := start + c.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		paths := make([]string, 0, end-start)
		for _, doc := range entries[start:end] {
			paths = append(paths, docstore.EntryPath(userID, businessID, doc.ID))
		}
		// Amounts are re-read inside the atomic group; the listing above only
		// chose which documents belong to the batch.
		err := c.store.Atomic(ctx, paths, func(reads map[string]docstore.Snapshot) ([]docstore.Write, error) {
			writes := make([]docstore.Write, 0, len(reads))
			for _, path := range paths {
				snap := reads[path]
				if !snap.Exists {
					continue // deleted since listing, nothing to rescale
				}
				var entry models.Entry
				if err := json.Unmarshal(snap.Data, &entry); err != nil {
					return nil, err
				}
				entry.Amount = applyFactor(entry.Amount)
				data, err := json.Marshal(entry)
				if err != nil {
					return nil, err
				}
				writes = append(writes, docstore.Write{Path: path, Data: data, Mode: docstore.Overwrite})
			}
			return writes, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
