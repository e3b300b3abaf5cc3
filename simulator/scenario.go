package simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"goa.design/txconsole/runtime/console/eventstream"
	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/status"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	// batch is a validated submission.
	batch struct {
		size      int
		amount    string
		token     string
		recipient string
		gasLimit  int
		gasPrice  string
	}

	// step is one scripted event of a transfer lifecycle.
	step struct {
		level   logview.Level
		message string
		meta    transfer.Meta
	}
)

// MinGasLimit is the gas limit below which a transfer always reverts.
const MinGasLimit = 21000

// forcedGasLimit is the gas limit applied to transfers forced to revert.
const forcedGasLimit = 5000

// script returns the lifecycle of transfer i of b, in emission order.
func (s *Server) script(sessionID string, b batch, i int) []step {
	idx := i
	id := fmt.Sprintf("%s-%d", sessionID, i)
	hash := txHash(sessionID, i)
	n := i + 1
	meta := func(code status.Code, withHash bool) transfer.Meta {
		m := transfer.Meta{ID: id, TxIndex: &idx, Status: code}
		if withHash {
			m.TxHash = hash
		}
		return m
	}

	gasLimit := b.gasLimit
	forced := s.opts.ForceRevert && i == b.size-1
	if forced {
		gasLimit = forcedGasLimit
	}
	reverts := gasLimit > 0 && gasLimit < MinGasLimit

	steps := []step{{
		level:   logview.LevelInfo,
		message: fmt.Sprintf("Preparing transfer %d of %d: %s %s to %s", n, b.size, b.amount, b.token, b.recipient),
		meta:    meta(status.Preparing, false),
	}}
	if forced {
		steps = append(steps, step{
			level:   logview.LevelWarn,
			message: fmt.Sprintf("Forcing gas limit of transfer %d to %d to exercise the failure path", n, forcedGasLimit),
			meta:    meta(status.ForcingFailure, false),
		})
	}
	steps = append(steps, step{
		level:   logview.LevelInfo,
		message: fmt.Sprintf("Transfer %d submitted: %s", n, s.explorerURL(hash)),
		meta:    meta(status.Submitted, true),
	})
	if i%2 == 1 {
		steps = append(steps, step{
			level:   logview.LevelWarn,
			message: fmt.Sprintf("Transaction %s not yet visible to the RPC provider", hash),
			meta:    meta(status.NotFound, false),
		})
	}
	steps = append(steps,
		step{
			level:   logview.LevelInfo,
			message: fmt.Sprintf("Transaction %s pending in mempool", hash),
			meta:    meta(status.Pending, false),
		},
		step{
			level:   logview.LevelInfo,
			message: fmt.Sprintf("Waiting for confirmation of transfer %d", n),
			meta:    meta(status.Monitoring, false),
		},
	)
	if reverts {
		steps = append(steps, step{
			level:   logview.LevelError,
			message: fmt.Sprintf("Transfer %d reverted (gas limit %d): %s", n, gasLimit, s.explorerURL(hash)),
			meta:    meta(status.Reverted, false),
		})
	} else {
		steps = append(steps, step{
			level:   logview.LevelInfo,
			message: fmt.Sprintf("Transfer %d confirmed: %s", n, s.explorerURL(hash)),
			meta:    meta(status.Confirmed, false),
		})
	}
	return steps
}

// run emits the events of a batch, interleaving transfers step by step, and
// ends the session.
func (s *Server) run(ctx context.Context, sessionID string, b batch) {
	start := s.now()
	defer func() {
		s.end(ctx, sessionID)
		s.metrics.duration.Observe(s.now().Sub(start).Seconds())
	}()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.opts.Step > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.Step), 1)
	}
	emit := func(st step) bool {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		s.emit(ctx, sessionID, st)
		return true
	}

	if b.size < 1 || b.size > s.opts.MaxBatchSize {
		emit(step{
			level:   logview.LevelError,
			message: fmt.Sprintf("Invalid batch size %d: must be between 1 and %d", b.size, s.opts.MaxBatchSize),
			meta:    transfer.Meta{Status: status.InvalidBatch},
		})
		return
	}

	scripts := make([][]step, b.size)
	longest := 0
	for i := range scripts {
		scripts[i] = s.script(sessionID, b, i)
		longest = max(longest, len(scripts[i]))
	}
	var confirmed, reverted int
	for k := range longest {
		for _, sc := range scripts {
			if k >= len(sc) {
				continue
			}
			if !emit(sc[k]) {
				return
			}
			switch sc[k].meta.Status {
			case status.Confirmed:
				confirmed++
			case status.Reverted:
				reverted++
			}
		}
	}
	emit(step{
		level:   logview.LevelInfo,
		message: fmt.Sprintf("Batch complete: %d confirmed, %d reverted", confirmed, reverted),
	})
}

func (s *Server) emit(ctx context.Context, sessionID string, st step) {
	evt := eventstream.Event{Level: st.level, Message: st.message, Timestamp: s.now()}
	if st.meta.ID != "" || st.meta.Status != "" {
		meta := st.meta
		evt.Meta = &meta
	}
	data, err := eventstream.Encode(evt)
	if err != nil {
		s.logger.Error(ctx, "encode event", "session_id", sessionID, "err", err)
		return
	}
	s.hub.append(sessionID, frame{data: data})
	label := string(st.meta.Status)
	if label == "" {
		label = "none"
	}
	s.metrics.events.WithLabelValues(label).Inc()
	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.Publish(ctx, sessionID, evt); err != nil {
			s.logger.Warn(ctx, "publish event", "session_id", sessionID, "err", err)
		}
	}
}

func (s *Server) end(ctx context.Context, sessionID string) {
	s.hub.finish(sessionID, frame{event: eventstream.EndEvent, data: []byte("{}")})
	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.End(context.WithoutCancel(ctx), sessionID); err != nil {
			s.logger.Warn(ctx, "publish end", "session_id", sessionID, "err", err)
		}
	}
	s.logger.Info(ctx, "session ended", "session_id", sessionID)
}

func (s *Server) explorerURL(hash string) string {
	return transfer.Explorer{TxURLTemplate: s.opts.ExplorerTxURL}.TxURL(hash)
}

// parseBatch validates the submitted form fields.
func parseBatch(fields map[string]string, defaultSize int) (batch, error) {
	get := func(k string) string { return strings.TrimSpace(fields[k]) }
	for _, k := range []string{"recipient", "amount"} {
		if get(k) == "" {
			return batch{}, fmt.Errorf("missing required field: %s", k)
		}
	}
	b := batch{
		size:      defaultSize,
		amount:    get("amount"),
		token:     get("tokenAddress"),
		recipient: get("recipient"),
		gasPrice:  get("gasPrice"),
	}
	if b.token == "" {
		b.token = "ETH"
	}
	if v := get("batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return batch{}, fmt.Errorf("invalid batchSize: %q is not an integer", v)
		}
		b.size = n
	}
	if v := get("gasLimit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return batch{}, fmt.Errorf("invalid gasLimit: %q", v)
		}
		b.gasLimit = n
	}
	return b, nil
}

func txHash(sessionID string, i int) string {
	sum := sha256.Sum256([]byte(sessionID + "/" + strconv.Itoa(i)))
	return "0x" + hex.EncodeToString(sum[:])
}
