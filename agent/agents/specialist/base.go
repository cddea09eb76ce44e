// Package specialist implements the booking, complaint and information
// agents dispatched by the orchestrator.
package specialist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Concierge/agent/contract"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
	toolx "github.com/tanpawarit/Chative-Travel-Concierge/agent/tool"
)

const (
	defaultCallTimeout   = 45 * time.Second
	defaultRetrievalTopK = 4
)

type options struct {
	callTimeout time.Duration
	topK        int
	retriever   contractx.Retriever
	searcher    toolx.Searcher
	failures    contractx.FailureObserver
	now         func() time.Time
	newRef      func(prefix string) string
}

type Option func(*options)

func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithRetrievalTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.topK = k
		}
	}
}

func WithRetriever(r contractx.Retriever) Option {
	return func(o *options) {
		if r != nil {
			o.retriever = r
		}
	}
}

func WithSearcher(s toolx.Searcher) Option {
	return func(o *options) {
		if s != nil {
			o.searcher = s
		}
	}
}

func WithFailureObserver(obs contractx.FailureObserver) Option {
	return func(o *options) {
		if obs != nil {
			o.failures = obs
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithReferenceGenerator replaces the booking/complaint reference source.
func WithReferenceGenerator(fn func(prefix string) string) Option {
	return func(o *options) {
		if fn != nil {
			o.newRef = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		callTimeout: defaultCallTimeout,
		topK:        defaultRetrievalTopK,
		retriever:   contractx.NoopRetriever{},
		searcher:    toolx.NewCatalogSearcher(),
		failures:    contractx.NoopFailureObserver{},
		now:         time.Now,
		newRef:      newReference,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// newReference returns e.g. "BK-1A2B3C4D".
func newReference(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(id[:8])
}

// base carries what every agent shares: identity, call limits and the
// reply helpers that guarantee one appended message.
type base struct {
	agentType contractx.AgentType
	opts      options
}

func (b base) reply(st *statex.TravelAgentState, content string) *statex.TravelAgentState {
	return st.AddMessage(statex.RoleAgent, content, b.agentType.AgentName(), b.opts.now())
}

func (b base) fail(ctx context.Context, st *statex.TravelAgentState, err error, apology string) *statex.TravelAgentState {
	log.Ctx(ctx).Warn().
		Err(err).
		Str("agent", b.agentType.AgentName()).
		Msg("specialist fell back to apology")
	b.opts.failures.ObserveFailure(b.agentType, err)
	return b.reply(st, apology)
}

func (b base) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.opts.callTimeout)
}

func invokeStructured[T any](
	ctx context.Context,
	b base,
	runner compose.Runnable[map[string]any, T],
	input string,
) (T, error) {
	callCtx, cancel := b.callContext(ctx)
	defer cancel()

	out, err := runner.Invoke(callCtx, map[string]any{"input": input})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s structured call: %v", contractx.ErrModelInvoke, b.agentType, err)
	}
	return out, nil
}

func invokeText(
	ctx context.Context,
	b base,
	runner compose.Runnable[map[string]any, *schema.Message],
	input string,
) (string, error) {
	callCtx, cancel := b.callContext(ctx)
	defer cancel()

	msg, err := runner.Invoke(callCtx, map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("%w: %s text call: %v", contractx.ErrModelInvoke, b.agentType, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: %s returned an empty reply", contractx.ErrSchemaViolation, b.agentType)
	}
	return strings.TrimSpace(msg.Content), nil
}

// flexInt accepts 2, "2", 2.0 or null.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
		if len(data) == 0 {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// flexList accepts ["a","b"], "a, b" or null.
type flexList []string

func (f *flexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		var out flexList
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*f = out
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(flexList, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(fmt.Sprint(it)); s != "" && it != nil {
			out = append(out, s)
		}
	}
	*f = out
	return nil
}

// orDefault returns v trimmed, or def when v is blank.
func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
