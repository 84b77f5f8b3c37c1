package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/fixedpoint"
	"github.com/simaogato/tokenledger-backend/internal/usecase/ledger"
	"github.com/simaogato/tokenledger-backend/internal/usecase/pnl"
	"github.com/simaogato/tokenledger-backend/internal/usecase/syncer"
)

// Server implements the LedgerService gRPC server
type Server struct {
	SyncService   *syncer.SyncService
	LedgerService *ledger.LedgerService
	PnLService    *pnl.PnLService

	logger *slog.Logger
}

// NewServer creates a new gRPC server instance
func NewServer(
	syncService *syncer.SyncService,
	ledgerService *ledger.LedgerService,
	pnlService *pnl.PnLService,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		SyncService:   syncService,
		LedgerService: ledgerService,
		PnLService:    pnlService,
		logger:        logger,
	}
}

// SyncWallet handles the SyncWallet RPC
func (s *Server) SyncWallet(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.SyncService.SyncWallet(ctx, owner, str(req, "wallet_address"))
	if err != nil {
		return nil, s.mapError(err)
	}

	return toStruct(syncResultToMap(result))
}

// SyncWallets handles the SyncWallets RPC
func (s *Server) SyncWallets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	wallets := strList(req, "wallet_addresses")
	if len(wallets) == 0 {
		return nil, status.Error(codes.InvalidArgument, "wallet_addresses cannot be empty")
	}

	results, err := s.SyncService.SyncWallets(ctx, owner, wallets)
	if err != nil {
		return nil, s.mapError(err)
	}

	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, syncResultToMap(r))
	}
	return toStruct(map[string]interface{}{"results": out})
}

// GetCostBasis handles the GetCostBasis RPC
func (s *Server) GetCostBasis(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	quantity, err := fixedpoint.ParseQuantity(str(req, "quantity"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid quantity format: %v", err)
	}
	asOf, err := optionalTime(req, "as_of")
	if err != nil {
		return nil, err
	}
	method, err := optionalMethod(req)
	if err != nil {
		return nil, err
	}
	if method == "" {
		if method, err = s.LedgerService.ActiveMethod(ctx, owner); err != nil {
			return nil, s.mapError(err)
		}
	}

	result, err := s.LedgerService.GetCostBasis(ctx, owner, str(req, "token"), quantity, asOf, method)
	if err != nil {
		return nil, s.mapError(err)
	}

	return toStruct(map[string]interface{}{
		"token":           domain.NormalizeToken(str(req, "token")),
		"method":          string(method),
		"quantity":        quantity.String(),
		"unit_cost_basis": result.UnitCostBasis.String(),
		"consumed_cost":   result.ConsumedCost.String(),
		"unmatched":       result.Unmatched.String(),
	})
}

// RecomputeHoldings handles the RecomputeHoldings RPC
func (s *Server) RecomputeHoldings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	method, err := optionalMethod(req)
	if err != nil {
		return nil, err
	}

	holding, err := s.LedgerService.RecomputeHoldings(ctx, owner, str(req, "token"), method)
	if err != nil {
		return nil, s.mapError(err)
	}

	return toStruct(holdingToMap(holding))
}

// SetCostBasisMethod handles the SetCostBasisMethod RPC
func (s *Server) SetCostBasisMethod(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	method, err := optionalMethod(req)
	if err != nil {
		return nil, err
	}
	if method == "" {
		return nil, status.Error(codes.InvalidArgument, "method is required")
	}

	change, err := s.LedgerService.SetMethod(ctx, owner, method)
	if err != nil {
		return nil, s.mapError(err)
	}

	holdings := make([]interface{}, 0, len(change.Holdings))
	for _, h := range change.Holdings {
		holdings = append(holdings, holdingToMap(h))
	}
	walletHoldings := make([]interface{}, 0, len(change.WalletHoldings))
	for _, h := range change.WalletHoldings {
		walletHoldings = append(walletHoldings, holdingToMap(h))
	}
	return toStruct(map[string]interface{}{
		"method":          string(change.Method),
		"holdings":        holdings,
		"wallet_holdings": walletHoldings,
		"errors":          itemErrorsToList(change.Errors),
	})
}

// CalculateRealizedPnL handles the CalculateRealizedPnL RPC
func (s *Server) CalculateRealizedPnL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := parseFilter(req)
	if err != nil {
		return nil, err
	}

	report, err := s.PnLService.CalculateRealizedPnL(ctx, owner, filter)
	if err != nil {
		return nil, s.mapError(err)
	}

	records := make([]interface{}, 0, len(report.Records))
	for _, r := range report.Records {
		records = append(records, map[string]interface{}{
			"transaction_id":  r.TransactionID.String(),
			"token":           r.Token,
			"quantity":        r.Quantity.String(),
			"unit_cost_basis": r.UnitCostBasis.String(),
			"proceeds":        r.Proceeds.String(),
			"cost":            r.Cost.String(),
			"fees":            r.Fees.String(),
			"amount":          r.Amount.String(),
			"timestamp":       r.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	byToken := make(map[string]interface{}, len(report.ByToken))
	for token, amount := range report.ByToken {
		byToken[token] = amount.String()
	}

	return toStruct(map[string]interface{}{
		"method":   string(report.Method),
		"total":    report.Total.String(),
		"by_token": byToken,
		"records":  records,
		"errors":   itemErrorsToList(report.Errors),
	})
}

// CalculateUnrealizedPnL handles the CalculateUnrealizedPnL RPC
func (s *Server) CalculateUnrealizedPnL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}

	report, err := s.PnLService.CalculateUnrealizedPnL(ctx, owner, pnl.Filter{Token: str(req, "token")})
	if err != nil {
		return nil, s.mapError(err)
	}

	lines := make([]interface{}, 0, len(report.Lines))
	for _, l := range report.Lines {
		lines = append(lines, map[string]interface{}{
			"token":           l.Token,
			"quantity":        l.Quantity.String(),
			"cost_basis":      l.CostBasis.String(),
			"price":           l.Price.String(),
			"market_value":    l.MarketValue.String(),
			"amount":          l.Amount.String(),
			"percent":         l.Percent.String(),
			"price_available": l.PriceAvailable,
		})
	}

	return toStruct(map[string]interface{}{
		"method": string(report.Method),
		"total":  report.Total.String(),
		"lines":  lines,
		"errors": itemErrorsToList(report.Errors),
	})
}

// CalculatePnLSummary handles the CalculatePnLSummary RPC
func (s *Server) CalculatePnLSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := parseFilter(req)
	if err != nil {
		return nil, err
	}

	summary, err := s.PnLService.CalculatePnLSummary(ctx, owner, filter)
	if err != nil {
		return nil, s.mapError(err)
	}

	lines := make([]interface{}, 0, len(summary.Lines))
	for _, l := range summary.Lines {
		lines = append(lines, map[string]interface{}{
			"token":      l.Token,
			"realized":   l.Realized.String(),
			"unrealized": l.Unrealized.String(),
			"total":      l.Total.String(),
		})
	}

	return toStruct(map[string]interface{}{
		"method":     string(summary.Method),
		"realized":   summary.Realized.String(),
		"unrealized": summary.Unrealized.String(),
		"total":      summary.Total.String(),
		"lines":      lines,
		"errors":     itemErrorsToList(summary.Errors),
	})
}

func requireOwner(ctx context.Context) (string, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing owner identity")
	}
	return owner, nil
}

func syncResultToMap(r *syncer.Result) map[string]interface{} {
	tokens := make([]interface{}, 0, len(r.TokensRecomputed))
	for _, t := range r.TokensRecomputed {
		tokens = append(tokens, t)
	}
	m := map[string]interface{}{
		"wallet":                r.Wallet,
		"new_transaction_count": r.NewTransactionCount,
		"skipped":               r.Skipped,
		"tokens_recomputed":     tokens,
		"errors":                itemErrorsToList(r.Errors),
	}
	if r.Err != nil {
		m["error"] = r.Err.Error()
		m["code"] = status.Code(errorStatus(r.Err)).String()
	}
	return m
}

func holdingToMap(h *domain.Holding) map[string]interface{} {
	return map[string]interface{}{
		"token":        h.Token,
		"wallet_scope": h.WalletScope,
		"method":       string(h.Method),
		"quantity":     h.Quantity.String(),
		"cost_basis":   h.CostBasis.String(),
		"average_cost": h.AverageCost().String(),
		"last_updated": h.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func itemErrorsToList(errs []domain.ItemError) []interface{} {
	out := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		out = append(out, map[string]interface{}{
			"item":  e.Item,
			"error": e.Err.Error(),
		})
	}
	return out
}

func toStruct(m map[string]interface{}) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return st, nil
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func strList(req *structpb.Struct, key string) []string {
	var out []string
	for _, v := range req.GetFields()[key].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func optionalTime(req *structpb.Struct, key string) (time.Time, error) {
	raw := str(req, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", key, err)
	}
	return t, nil
}

func optionalMethod(req *structpb.Struct) (domain.CostBasisMethod, error) {
	raw := str(req, "method")
	if raw == "" {
		return "", nil
	}
	method, err := domain.ParseCostBasisMethod(raw)
	if err != nil {
		return "", status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return method, nil
}

func parseFilter(req *structpb.Struct) (pnl.Filter, error) {
	from, err := optionalTime(req, "from")
	if err != nil {
		return pnl.Filter{}, err
	}
	to, err := optionalTime(req, "to")
	if err != nil {
		return pnl.Filter{}, err
	}
	return pnl.Filter{From: from, To: to, Token: str(req, "token")}, nil
}

// mapError converts domain errors to gRPC status errors and logs unexpected ones
func (s *Server) mapError(err error) error {
	st := errorStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.Error("request failed", "error", err)
	}
	return st
}

func errorStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, fixedpoint.ErrPrecision):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrSyncInProgress):
		code = codes.Aborted
	case errors.Is(err, domain.ErrPartialSourceFailure), errors.Is(err, domain.ErrPriceUnavailable):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

var _ LedgerServiceServer = (*Server)(nil)

