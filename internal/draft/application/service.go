package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	catalogdomain "github.com/tytya04/zakupki/internal/catalog/domain"
	"github.com/tytya04/zakupki/internal/draft/domain"
	"github.com/tytya04/zakupki/internal/ingest/parser"
	"github.com/tytya04/zakupki/internal/ingest/resolver"
	"github.com/tytya04/zakupki/internal/ingest/units"
)

// Service is the draft accumulator and state machine: it merges freshly
// parsed and resolved items into the current draft and owns every operator
// operation on it.
type Service struct {
	log      *slog.Logger
	repo     DraftRepository
	resolver *resolver.Resolver
	catalog  Catalog
}

func NewService(log *slog.Logger, repo DraftRepository, res *resolver.Resolver, cat Catalog) *Service {
	return &Service{log: log, repo: repo, resolver: res, catalog: cat}
}

type IngestRequest struct {
	DraftID      *uuid.UUID
	RestaurantID uuid.UUID
	BranchID     *uuid.UUID
	OperatorID   uuid.UUID
	ScheduledFor time.Time
	Text         string
}

// IngestBatch processes every line of the input and returns one aggregate
// result. A malformed or unresolvable line never aborts its siblings.
func (s *Service) IngestBatch(ctx context.Context, req IngestRequest) (domain.BatchResult, error) {
	draft, err := s.loadOrCreate(ctx, req)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if !draft.Editable() {
		return domain.BatchResult{}, domain.ErrDraftNotEditable
	}

	parsed, malformed := parser.ParseText(req.Text)

	res := domain.BatchResult{DraftID: draft.ID}
	for _, m := range malformed {
		res.Malformed = append(res.Malformed, domain.MalformedResult{RawText: m.RawText, Reason: m.Reason})
	}

	var newLines []domain.DraftLine
	for _, ln := range parsed {
		s.accumulate(&draft, &res, &newLines, incoming{
			name:      ln.Name,
			quantity:  ln.Quantity,
			unitToken: ln.UnitToken,
			rawText:   ln.RawText,
			addedBy:   req.OperatorID,
		})
	}

	if len(newLines) > 0 {
		if err := s.repo.AppendLines(ctx, draft.ID, draft.Version, newLines); err != nil {
			return domain.BatchResult{}, fmt.Errorf("append lines: %w", err)
		}
	}
	s.log.Info("batch ingested",
		"draft_id", draft.ID,
		"matched", len(res.Matched),
		"unmatched", len(res.Unmatched),
		"duplicates", len(res.Duplicate),
		"needs_unit", len(res.NeedsUnit),
		"malformed", len(res.Malformed),
	)
	return res, nil
}

// ResolveUnit re-enters the ingestion path for a name/quantity the operator
// has now picked a unit for. With the unit supplied the same line resolves
// without ambiguity.
func (s *Service) ResolveUnit(ctx context.Context, draftID, operatorID uuid.UUID, name string, quantity decimal.Decimal, unit string) (domain.BatchResult, error) {
	if !quantity.IsPositive() {
		return domain.BatchResult{}, domain.ErrBadQuantity
	}
	draft, err := s.repo.Get(ctx, draftID)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if !draft.Editable() {
		return domain.BatchResult{}, domain.ErrDraftNotEditable
	}

	res := domain.BatchResult{DraftID: draft.ID}
	var newLines []domain.DraftLine
	s.accumulate(&draft, &res, &newLines, incoming{
		name:      name,
		quantity:  quantity,
		unitToken: unit,
		rawText:   fmt.Sprintf("%s %s %s", name, quantity, unit),
		addedBy:   operatorID,
	})
	if len(newLines) > 0 {
		if err := s.repo.AppendLines(ctx, draft.ID, draft.Version, newLines); err != nil {
			return domain.BatchResult{}, fmt.Errorf("append lines: %w", err)
		}
	}
	return res, nil
}

// ConfirmMatch attaches an operator-picked product to a line.
func (s *Service) ConfirmMatch(ctx context.Context, draftID, lineID, productID uuid.UUID) (domain.LineView, error) {
	draft, line, err := s.editableLine(ctx, draftID, lineID)
	if err != nil {
		return domain.LineView{}, err
	}
	product, ok := s.catalog.ProductByID(productID)
	if !ok {
		return domain.LineView{}, ErrProductNotFound
	}

	pid := product.ID
	line.MatchedProductID = &pid
	line.DisplayName = product.CanonicalName
	line.Unit = product.Unit
	line.Status = domain.LineConfirmed

	if err := s.repo.UpdateLine(ctx, draft.ID, draft.Version, *line); err != nil {
		return domain.LineView{}, err
	}
	return line.View(), nil
}

// ResolveDuplicate applies the operator's three-way decision to the existing
// line a duplicate mention collided with.
func (s *Service) ResolveDuplicate(ctx context.Context, draftID, lineID uuid.UUID, decision domain.DuplicateDecision, quantity decimal.Decimal, unit string) (domain.LineView, error) {
	draft, line, err := s.editableLine(ctx, draftID, lineID)
	if err != nil {
		return domain.LineView{}, err
	}
	if unit != "" {
		if canon, ok := units.Canonical(unit); ok {
			unit = canon
		}
	}
	changed, err := domain.ApplyDuplicateDecision(line, decision, quantity, unit)
	if err != nil {
		return domain.LineView{}, err
	}
	if !changed {
		return line.View(), nil
	}
	line.Status = domain.LineConfirmed
	if err := s.repo.UpdateLine(ctx, draft.ID, draft.Version, *line); err != nil {
		return domain.LineView{}, err
	}
	return line.View(), nil
}

func (s *Service) EditQuantity(ctx context.Context, draftID, lineID uuid.UUID, quantity decimal.Decimal) (domain.LineView, error) {
	if !quantity.IsPositive() {
		return domain.LineView{}, domain.ErrBadQuantity
	}
	draft, line, err := s.editableLine(ctx, draftID, lineID)
	if err != nil {
		return domain.LineView{}, err
	}
	line.Quantity = quantity
	if line.Active() {
		line.Status = domain.LineConfirmed
	}
	if err := s.repo.UpdateLine(ctx, draft.ID, draft.Version, *line); err != nil {
		return domain.LineView{}, err
	}
	return line.View(), nil
}

func (s *Service) RemoveLine(ctx context.Context, draftID, lineID uuid.UUID) error {
	draft, line, err := s.editableLine(ctx, draftID, lineID)
	if err != nil {
		return err
	}
	return s.repo.DeleteLine(ctx, draft.ID, draft.Version, line.ID)
}

// Convert cuts the draft over into a firm order. Atomic: the firm order, the
// sent status and the outbox event commit together or not at all.
func (s *Service) Convert(ctx context.Context, draftID uuid.UUID, traceparent string) (domain.FirmOrder, error) {
	fo, err := s.repo.Convert(ctx, draftID, traceparent)
	if err != nil {
		return domain.FirmOrder{}, err
	}
	s.log.Info("draft converted", "draft_id", draftID, "firm_order_id", fo.ID, "lines", len(fo.Lines))
	return fo, nil
}

func (s *Service) Cancel(ctx context.Context, draftID uuid.UUID) error {
	return s.repo.Cancel(ctx, draftID)
}

func (s *Service) GetDraft(ctx context.Context, draftID uuid.UUID) (domain.DraftOrder, error) {
	return s.repo.Get(ctx, draftID)
}

type incoming struct {
	name      string
	quantity  decimal.Decimal
	unitToken string
	rawText   string
	addedBy   uuid.UUID
}

// accumulate decides the fate of one resolved item against the draft's
// current line set, including lines added earlier in the same batch: the
// second mention of a product within one ingestion is already a duplicate.
func (s *Service) accumulate(draft *domain.DraftOrder, res *domain.BatchResult, newLines *[]domain.DraftLine, it incoming) {
	cands := s.resolver.Resolve(it.name, resolver.LimitInteractive)

	if len(cands) == 0 || cands[0].Score < 1.0 {
		// No exact or synonym hit. Auto-matching stays conservative: the
		// line lands unmatched with a short ranked quick-pick.
		suggestions := cands
		if len(suggestions) > resolver.LimitQuickPick {
			suggestions = suggestions[:resolver.LimitQuickPick]
		}
		uo := units.Decide(it.unitToken, nil)
		line := s.newLine(draft, it, domain.LineUnmatched, it.name, uo.Unit, nil)
		s.stageLine(draft, newLines, line)
		res.Unmatched = append(res.Unmatched, domain.UnmatchedResult{Line: line.View(), Suggestions: suggestions})
		return
	}

	// Exact or synonym: every candidate shares one canonical name and they
	// differ by unit only.
	canonical := cands[0].Product.CanonicalName
	catalogUnits := s.catalog.UnitsFor(canonical)
	uo := units.Decide(it.unitToken, catalogUnits)

	if existing := draft.ActiveLineFor(productIDs(cands)...); existing != nil {
		dup := domain.DuplicateResult{
			ExistingLine: existing.View(),
			NewQuantity:  it.quantity,
			OriginalText: it.rawText,
		}
		if uo.Decision == units.Ambiguous {
			dup.UnitOptions = uo.Options
		}
		res.Duplicate = append(res.Duplicate, dup)
		return
	}

	if uo.Decision == units.Ambiguous {
		res.NeedsUnit = append(res.NeedsUnit, domain.NeedsUnitResult{
			Name:         it.name,
			Quantity:     it.quantity,
			Options:      uo.Options,
			OriginalText: it.rawText,
		})
		return
	}

	product := pickByUnit(cands, uo.Unit)
	pid := product.ID
	line := s.newLine(draft, it, domain.LineMatched, product.CanonicalName, product.Unit, &pid)
	s.stageLine(draft, newLines, line)
	res.Matched = append(res.Matched, domain.MatchedResult{Line: line.View(), Reason: cands[0].Reason})
}

func (s *Service) newLine(draft *domain.DraftOrder, it incoming, status domain.LineStatus, displayName, unit string, productID *uuid.UUID) domain.DraftLine {
	now := time.Now().UTC()
	return domain.DraftLine{
		ID:               uuid.New(),
		DraftOrderID:     draft.ID,
		DisplayName:      displayName,
		OriginalText:     it.rawText,
		Quantity:         it.quantity,
		Unit:             unit,
		Status:           status,
		MatchedProductID: productID,
		AddedBy:          it.addedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// stageLine makes the new line visible to duplicate checks later in the same
// batch and queues it for the single commit at the end.
func (s *Service) stageLine(draft *domain.DraftOrder, newLines *[]domain.DraftLine, line domain.DraftLine) {
	draft.Lines = append(draft.Lines, line)
	*newLines = append(*newLines, line)
}

func (s *Service) loadOrCreate(ctx context.Context, req IngestRequest) (domain.DraftOrder, error) {
	if req.DraftID != nil {
		return s.repo.Get(ctx, *req.DraftID)
	}
	return s.repo.GetOrCreate(ctx, domain.Scope{
		RestaurantID: req.RestaurantID,
		BranchID:     req.BranchID,
		ScheduledFor: req.ScheduledFor,
	}, req.OperatorID)
}

func (s *Service) editableLine(ctx context.Context, draftID, lineID uuid.UUID) (domain.DraftOrder, *domain.DraftLine, error) {
	draft, err := s.repo.Get(ctx, draftID)
	if err != nil {
		return domain.DraftOrder{}, nil, err
	}
	if !draft.Editable() {
		return domain.DraftOrder{}, nil, domain.ErrDraftNotEditable
	}
	line := draft.Line(lineID)
	if line == nil {
		return domain.DraftOrder{}, nil, domain.ErrLineNotFound
	}
	return draft, line, nil
}

func productIDs(cands []catalogdomain.MatchCandidate) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.Product.ID)
	}
	return ids
}

func pickByUnit(cands []catalogdomain.MatchCandidate, unit string) catalogdomain.Product {
	for _, c := range cands {
		if c.Product.Unit == unit {
			return c.Product
		}
	}
	return cands[0].Product
}
