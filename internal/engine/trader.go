// Package engine runs the trading loop. Each cycle reconciles portfolio
// state against the broker, loads and validates market data, applies the
// risk halt gate, evaluates the strategy per symbol, and advances every
// open trade group's bracket state machine. All engine state is confined
// to the single loop goroutine; the HTTP layer reads the status board.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"smartcfd/internal/broker"
	"smartcfd/internal/config"
	"smartcfd/internal/domain"
	"smartcfd/internal/indicator"
	"smartcfd/internal/marketdata"
	"smartcfd/internal/monitor"
	"smartcfd/internal/portfolio"
	"smartcfd/internal/risk"
	"smartcfd/internal/status"
	"smartcfd/internal/store"
	"smartcfd/internal/strategy"
	"smartcfd/internal/tradegroup"
)

// Deps carries every collaborator the Trader needs. All fields are
// required except Archive, which enables bar archiving when set.
type Deps struct {
	Config     *config.Config
	Log        *slog.Logger
	Broker     broker.Broker
	Loader     marketdata.Loader
	Strategy   strategy.Strategy
	Portfolio  *portfolio.Manager
	Risk       *risk.Manager
	Groups     *tradegroup.Manager
	Runs       store.RunStore
	Heartbeats store.HeartbeatStore
	Archive    store.BarStore
	Board      *status.Board
	Regime     *indicator.RegimeDetector
}

// Trader owns the cycle loop.
type Trader struct {
	cfg        *config.Config
	log        *slog.Logger
	broker     broker.Broker
	loader     marketdata.Loader
	strategy   strategy.Strategy
	pf         *portfolio.Manager
	risk       *risk.Manager
	groups     *tradegroup.Manager
	runs       store.RunStore
	heartbeats store.HeartbeatStore
	archive    store.BarStore
	board      *status.Board
	regime     *indicator.RegimeDetector

	runID int64
}

// NewTrader wires a Trader from its dependencies.
func NewTrader(d Deps) *Trader {
	return &Trader{
		cfg:        d.Config,
		log:        d.Log.With("component", "engine"),
		broker:     d.Broker,
		loader:     d.Loader,
		strategy:   d.Strategy,
		pf:         d.Portfolio,
		risk:       d.Risk,
		groups:     d.Groups,
		runs:       d.Runs,
		heartbeats: d.Heartbeats,
		archive:    d.Archive,
		board:      d.Board,
		regime:     d.Regime,
	}
}

// Run executes the trading loop until ctx is canceled. A start record is
// written immediately and a stop record on the way out. An in-flight
// cycle always finishes before shutdown; cancellation is only observed
// between cycles.
func (t *Trader) Run(ctx context.Context) error {
	runID, err := t.runs.StartRun(ctx, "engine start")
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	t.runID = runID
	t.board.SetRun(runID, time.Now().UTC())
	t.log.Info("trader started",
		"runID", runID,
		"strategy", t.strategy.Name(),
		"watchList", t.cfg.App.WatchList,
		"runIntervalSeconds", t.cfg.App.RunIntervalSeconds,
	)

	interval := time.Duration(t.cfg.App.RunIntervalSeconds) * time.Second

	if err := t.RunCycle(ctx); err != nil && ctx.Err() == nil {
		t.log.Error("cycle completed with errors", "err", err)
	}
	lastCycle := time.Now()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.shutdown()
		case now := <-ticker.C:
			if now.Sub(lastCycle) < interval {
				continue
			}
			lastCycle = now
			if err := t.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return t.shutdown()
				}
				t.log.Error("cycle completed with errors", "err", err)
			}
		}
	}
}

// shutdown records the terminal run row. The parent context is already
// canceled by now, so the write gets its own deadline.
func (t *Trader) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.runs.FinishRun(ctx, t.runID, "stopped", "shutdown signal"); err != nil {
		t.log.Error("recording run stop failed", "runID", t.runID, "err", err)
		return err
	}
	t.log.Info("trader stopped", "runID", t.runID)
	return nil
}

// RunCycle performs one full pass: reconcile, load data, halt check,
// evaluate, progress trade groups, heartbeat. The heartbeat and status
// board are updated no matter how far the cycle got.
func (t *Trader) RunCycle(ctx context.Context) error {
	cycleStart := time.Now()

	res := t.pf.Reconcile(ctx)
	if account := t.pf.Account(); account != nil {
		t.board.SetAccount(account.Equity, account.LastEquity, account.IsOnline)
		monitor.SetEquity(account.Equity)
	}

	symbols := t.cfg.App.Symbols()
	dataBySymbol := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		bars, err := t.loadBars(ctx, symbol)
		if err != nil {
			t.log.Warn("symbol sitting out this cycle", "symbol", symbol, "err", err)
			monitor.RecordError("data")
			continue
		}
		dataBySymbol[symbol] = bars
	}

	halted := t.risk.CheckForHalt(dataBySymbol)
	_, reason := t.risk.Halted()
	t.board.SetHalt(halted, reason)
	monitor.SetHalted(halted)

	if !halted {
		if err := t.risk.ManageOpenPositions(ctx); err != nil {
			t.log.Error("managing open positions failed", "err", err)
			monitor.RecordError("risk")
		}
		for _, symbol := range symbols {
			bars, ok := dataBySymbol[symbol]
			if !ok {
				continue
			}
			t.evaluateSymbol(ctx, symbol, bars)
		}
	}

	// Exits must keep pace with fills even while halted.
	t.manageTradeGroups(ctx)

	t.recordHeartbeat(ctx, res)
	t.publishExposure()
	t.board.SetCycle(time.Now().UTC())
	monitor.RecordCycle(time.Since(cycleStart))

	if res.Err != nil {
		return fmt.Errorf("reconcile: %w", res.Err)
	}
	return ctx.Err()
}

// loadBars fetches and validates one symbol's history, publishing the
// outcome to the status board and archiving validated bars when an
// archive store is configured.
func (t *Trader) loadBars(ctx context.Context, symbol string) ([]domain.Bar, error) {
	checkedAt := time.Now().UTC()

	bars, err := t.loader.GetBars(ctx, symbol, t.cfg.App.MinDataPoints)
	if err != nil {
		t.board.SetDataFeed(symbol, status.FeedStatus{
			Reason:    err.Error(),
			CheckedAt: checkedAt,
		})
		return nil, err
	}

	fs := status.FeedStatus{Bars: len(bars), CheckedAt: checkedAt}
	if len(bars) > 0 {
		fs.LastBarAt = bars[len(bars)-1].Timestamp
	}
	if err := t.loader.Validate(bars); err != nil {
		fs.Reason = err.Error()
		t.board.SetDataFeed(symbol, fs)
		return nil, err
	}
	fs.OK = true
	t.board.SetDataFeed(symbol, fs)

	if t.archive != nil {
		if err := t.archive.WriteBars(ctx, t.cfg.App.TradeInterval, bars); err != nil {
			// Archiving is best-effort; trading continues on validated bars.
			t.log.Warn("archiving bars failed", "symbol", symbol, "err", err)
		}
	}
	return bars, nil
}

// evaluateSymbol runs the strategy for one symbol and initiates a trade
// when the signal clears the confidence threshold and nothing is already
// working on the symbol.
func (t *Trader) evaluateSymbol(ctx context.Context, symbol string, bars []domain.Bar) {
	regime := t.regime.Detect(bars)

	sig, err := t.strategy.Evaluate(ctx, symbol, regime, bars)
	if err != nil {
		t.log.Error("strategy evaluation failed", "symbol", symbol, "err", err)
		monitor.RecordError("strategy")
		return
	}
	if sig == nil || sig.Type == domain.SignalTypeHold {
		return
	}
	monitor.SetSignalConfidence(symbol, sig.Strategy, sig.Confidence)

	if sig.Confidence < t.cfg.App.TradeConfidenceThreshold {
		t.log.Debug("signal under confidence threshold",
			"symbol", symbol,
			"signal", sig.Type,
			"confidence", sig.Confidence,
		)
		return
	}
	if t.pf.HasPendingOrder(symbol) {
		t.log.Debug("open order already working, skipping", "symbol", symbol)
		return
	}
	t.initiateTrade(ctx, sig, bars)
}

// initiateTrade sizes, records, and submits one entry order. The trade
// group row exists before anything reaches the broker so that no order
// can end up untracked.
func (t *Trader) initiateTrade(ctx context.Context, sig *domain.Signal, bars []domain.Bar) {
	var side domain.OrderSide
	switch sig.Type {
	case domain.SignalTypeBuy:
		side = domain.OrderSideBuy
	case domain.SignalTypeSell:
		side = domain.OrderSideSell
	default:
		return
	}

	qty, price := t.risk.CalculateOrderQty(sig.Symbol, side, bars)
	if qty <= 0 {
		t.log.Info("sizing declined trade", "symbol", sig.Symbol, "side", side, "price", price)
		return
	}
	req := t.risk.GenerateBracketOrder(sig.Symbol, side, qty, price, bars)
	if req == nil {
		t.log.Warn("no valid bracket levels, trade dropped", "symbol", sig.Symbol)
		return
	}

	group, err := t.groups.CreateGroup(ctx, sig.Symbol, side)
	if err != nil {
		t.log.Error("creating trade group failed", "symbol", sig.Symbol, "err", err)
		monitor.RecordError("store")
		return
	}
	if err := t.groups.SetLevels(ctx, group.GID, req.TakeProfit.LimitPrice, req.StopLoss.StopPrice); err != nil {
		t.log.Error("persisting bracket levels failed", "gid", group.GID, "err", err)
		t.markGroupError(ctx, group.GID, "could not persist bracket levels")
		return
	}

	req.ClientOrderID = t.cfg.App.OrderClientIDPrefix + "-" + group.GID
	order, err := t.broker.SubmitOrder(ctx, req)
	if err != nil {
		// One attempt per cycle. The group records the failure and a
		// fresh signal next cycle starts a fresh group.
		t.log.Error("entry submission failed", "gid", group.GID, "symbol", sig.Symbol, "err", err)
		monitor.RecordRejection(sig.Symbol)
		t.markGroupError(ctx, group.GID, "entry submission failed: "+err.Error())
		return
	}

	t.log.Info("entry submitted",
		"gid", group.GID,
		"symbol", sig.Symbol,
		"side", side,
		"qty", qty,
		"orderID", order.ID,
		"takeProfit", req.TakeProfit.LimitPrice,
		"stopLoss", req.StopLoss.StopPrice,
	)
	monitor.RecordTrade(sig.Symbol, string(side))

	if err := t.groups.UpdateEntry(ctx, group.GID, order.ID); err != nil {
		t.log.Error("recording entry order failed", "gid", group.GID, "err", err)
		return
	}
	if err := t.groups.UpdateStatus(ctx, group.GID, domain.GroupStatusEntrySubmitted); err != nil {
		t.log.Error("updating group status failed", "gid", group.GID, "err", err)
		return
	}

	// Market entries often fill in the submission response.
	if order.FilledQty > 0 && order.Status == domain.OrderStatusFilled {
		if err := t.groups.UpdateFill(ctx, group.GID, order.FilledQty); err != nil {
			t.log.Error("recording entry fill failed", "gid", group.GID, "err", err)
			return
		}
		if err := t.groups.UpdateStatus(ctx, group.GID, domain.GroupStatusEntryFilled); err != nil {
			t.log.Error("updating group status failed", "gid", group.GID, "err", err)
		}
	}
}

func (t *Trader) markGroupError(ctx context.Context, gid, note string) {
	if err := t.groups.UpdateStatus(ctx, gid, domain.GroupStatusError, note); err != nil {
		t.log.Error("marking group error failed", "gid", gid, "err", err)
	}
}

// manageTradeGroups advances every non-terminal group one step, oldest
// first. A group that fills its entry this pass submits its exits on the
// next pass; progressions are deliberately one transition per cycle so
// each step is durable before the next.
func (t *Trader) manageTradeGroups(ctx context.Context) {
	active, err := t.groups.Active(ctx)
	if err != nil {
		t.log.Error("listing active trade groups failed", "err", err)
		monitor.RecordError("store")
		return
	}
	for i := range active {
		g := &active[i]
		var err error
		switch g.Status {
		case domain.GroupStatusNew:
			err = t.progressNew(ctx, g)
		case domain.GroupStatusEntrySubmitted:
			err = t.progressEntrySubmitted(ctx, g)
		case domain.GroupStatusEntryFilled:
			err = t.progressEntryFilled(ctx, g)
		case domain.GroupStatusExitsSubmitted:
			err = t.progressExitsSubmitted(ctx, g)
		}
		if err != nil {
			t.log.Error("trade group progression failed",
				"gid", g.GID,
				"status", g.Status,
				"err", err,
			)
			monitor.RecordError("tradegroup")
		}
	}
}

// progressNew cancels orphans. A group still in "new" when the manager
// sees it means the process died between creation and submission; its
// entry never reached the broker.
func (t *Trader) progressNew(ctx context.Context, g *domain.TradeGroup) error {
	t.log.Warn("canceling orphaned trade group", "gid", g.GID, "symbol", g.Symbol)
	return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusCanceled, "entry never submitted")
}

func (t *Trader) progressEntrySubmitted(ctx context.Context, g *domain.TradeGroup) error {
	if g.EntryOrderID == "" {
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusError, "entry order id missing")
	}
	order, err := t.broker.GetOrder(ctx, g.EntryOrderID)
	if err != nil {
		return fmt.Errorf("looking up entry order %s: %w", g.EntryOrderID, err)
	}

	switch order.Status {
	case domain.OrderStatusFilled:
		if err := t.groups.UpdateFill(ctx, g.GID, order.FilledQty); err != nil {
			return err
		}
		t.log.Info("entry filled",
			"gid", g.GID,
			"symbol", g.Symbol,
			"qty", order.FilledQty,
			"avgPrice", order.FilledAvgPrice,
		)
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusEntryFilled)
	case domain.OrderStatusPartiallyFilled:
		// Track the partial; the group advances once the order is done.
		return t.groups.UpdateFill(ctx, g.GID, order.FilledQty)
	case domain.OrderStatusCanceled, domain.OrderStatusExpired:
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusCanceled, "entry "+string(order.Status))
	case domain.OrderStatusRejected:
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusError, "entry rejected by broker")
	}
	return nil
}

// progressEntryFilled places both protective exits from the levels stored
// at entry time. If the second leg fails the first is pulled so a filled
// position is never left with a one-sided bracket.
func (t *Trader) progressEntryFilled(ctx context.Context, g *domain.TradeGroup) error {
	if g.OpenQty <= 0 {
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusError, "entry filled with zero open quantity")
	}
	if g.TakeProfitPrice <= 0 || g.StopLossPrice <= 0 {
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusError, "bracket levels missing")
	}
	exitSide := g.Side.Opposite()

	tpOrder, err := t.broker.SubmitOrder(ctx, &domain.OrderRequest{
		Symbol:        g.Symbol,
		Qty:           g.OpenQty,
		Side:          exitSide,
		Type:          domain.OrderTypeLimit,
		TimeInForce:   domain.TimeInForceGTC,
		LimitPrice:    g.TakeProfitPrice,
		ClientOrderID: t.cfg.App.OrderClientIDPrefix + "-" + g.GID + "-tp",
	})
	if err != nil {
		t.markGroupError(ctx, g.GID, "take-profit submission failed: "+err.Error())
		return fmt.Errorf("submitting take-profit: %w", err)
	}

	slOrder, err := t.broker.SubmitOrder(ctx, &domain.OrderRequest{
		Symbol:        g.Symbol,
		Qty:           g.OpenQty,
		Side:          exitSide,
		Type:          domain.OrderTypeStop,
		TimeInForce:   domain.TimeInForceGTC,
		StopPrice:     g.StopLossPrice,
		ClientOrderID: t.cfg.App.OrderClientIDPrefix + "-" + g.GID + "-sl",
	})
	if err != nil {
		if cerr := t.broker.CancelOrder(ctx, tpOrder.ID); cerr != nil {
			t.log.Error("canceling one-sided take-profit failed",
				"gid", g.GID,
				"orderID", tpOrder.ID,
				"err", cerr,
			)
		}
		t.markGroupError(ctx, g.GID, "stop-loss submission failed: "+err.Error())
		return fmt.Errorf("submitting stop-loss: %w", err)
	}

	if err := t.groups.UpdateExits(ctx, g.GID, tpOrder.ID, slOrder.ID); err != nil {
		return err
	}
	t.log.Info("exits submitted",
		"gid", g.GID,
		"symbol", g.Symbol,
		"takeProfitOrderID", tpOrder.ID,
		"stopLossOrderID", slOrder.ID,
	)
	return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusExitsSubmitted)
}

// progressExitsSubmitted watches both legs. One fill cancels the sibling
// and closes the group; both legs finishing without a fill closes the
// group only if the position is actually flat.
func (t *Trader) progressExitsSubmitted(ctx context.Context, g *domain.TradeGroup) error {
	tp, err := t.broker.GetOrder(ctx, g.TPOrderID)
	if err != nil {
		return fmt.Errorf("looking up take-profit %s: %w", g.TPOrderID, err)
	}
	sl, err := t.broker.GetOrder(ctx, g.SLOrderID)
	if err != nil {
		return fmt.Errorf("looking up stop-loss %s: %w", g.SLOrderID, err)
	}

	switch {
	case tp.Status == domain.OrderStatusFilled:
		t.cancelSibling(ctx, g.GID, sl)
		t.log.Info("trade group closed", "gid", g.GID, "symbol", g.Symbol, "outcome", "take profit")
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusClosed, "take profit filled")
	case sl.Status == domain.OrderStatusFilled:
		t.cancelSibling(ctx, g.GID, tp)
		t.log.Info("trade group closed", "gid", g.GID, "symbol", g.Symbol, "outcome", "stop loss")
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusClosed, "stop loss filled")
	case tp.Status.Done() && sl.Status.Done():
		// Neither leg filled yet both are finished: canceled out of band.
		if t.pf.HasOpenPosition(g.Symbol) {
			return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusError, "exits gone but position still open")
		}
		return t.groups.UpdateStatus(ctx, g.GID, domain.GroupStatusClosed, "exits canceled, position flat")
	}
	return nil
}

func (t *Trader) cancelSibling(ctx context.Context, gid string, sibling *domain.Order) {
	if sibling.Status.Done() {
		return
	}
	if err := t.broker.CancelOrder(ctx, sibling.ID); err != nil {
		t.log.Error("canceling sibling exit failed", "gid", gid, "orderID", sibling.ID, "err", err)
	}
}

// recordHeartbeat persists the cycle's broker connectivity probe.
func (t *Trader) recordHeartbeat(ctx context.Context, res portfolio.ReconcileResult) {
	hb := store.Heartbeat{
		TS:        time.Now().UTC(),
		OK:        res.AccountOK,
		LatencyMS: float64(res.AccountLatency.Microseconds()) / 1000.0,
		Note:      "cycle",
	}
	if res.AccountOK {
		hb.StatusCode = 200
	} else if res.Err != nil {
		hb.Error = res.Err.Error()
		hb.StatusCode = broker.StatusCode(res.Err)
	}
	if _, err := t.heartbeats.SaveHeartbeat(ctx, hb); err != nil {
		t.log.Error("saving heartbeat failed", "err", err)
	}
}

// publishExposure pushes the reconciled portfolio view to the status
// board and gauges.
func (t *Trader) publishExposure() {
	positions := t.pf.Positions()
	bySymbol := make(map[string]float64, len(positions))
	list := make([]domain.Position, 0, len(positions))
	for symbol, p := range positions {
		bySymbol[symbol] = math.Abs(p.MarketValue)
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })

	total := t.pf.TotalExposure()
	t.board.SetExposure(total, bySymbol, list, len(t.pf.OpenOrders()))
	monitor.SetExposure(total)
}
