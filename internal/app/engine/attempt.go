package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain/backend"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/selector"
	"conductor/internal/domain/task"
	tracepkg "conductor/internal/domain/trace"
	"conductor/internal/domain/usage"
	"conductor/internal/infra/observability"
	jsonx "conductor/internal/shared/json"
	"conductor/internal/shared/utils/id"
)

// process runs one attempt of t. Once dequeued the attempt runs to completion
// on a context detached from run cancellation; each external call is bounded
// by the invoke timeout.
func (e *Engine) process(runCtx context.Context, r *run, t task.Task) {
	ctx, span := e.tracer.StartSpan(context.WithoutCancel(runCtx), observability.SpanTaskAttempt,
		attribute.String(observability.AttrTaskID, t.ID),
		attribute.String(observability.AttrRole, t.Role),
	)
	defer span.End()

	if st := r.state(t.ID); st != nil {
		r.mu.Lock()
		st.attempts++
		r.mu.Unlock()
	}
	e.metrics.RecordAttempt(ctx, t.Role)
	e.emit(r, tracepkg.EventTaskRunning, t.ID, map[string]any{
		"role":    t.Role,
		"attempt": t.Retries + 1,
		"retries": t.Retries,
	})

	// 1. Select an arm for the role.
	arm, err := e.selectArm(t.Role)
	if err != nil {
		r.logger.Warn("task %s: %v", t.ID, err)
		e.escalate(ctx, span, r, t, err.Error())
		return
	}
	e.emit(r, tracepkg.EventArmSelected, t.ID, map[string]any{
		"armId":         arm.ID,
		"backend":       arm.BackendName,
		"promptVariant": arm.PromptVariant,
		"wins":          arm.Wins,
		"plays":         arm.Plays,
	})
	span.SetAttributes(attribute.String(observability.AttrArmID, arm.ID))

	// 2. Resolve a usable backend handle.
	h, err := e.resolve(r, t.Role, arm.BackendName)
	if err != nil {
		r.logger.Warn("task %s: no usable backend: %v", t.ID, err)
		e.escalate(ctx, span, r, t, fmt.Sprintf("no usable backend for role %s: %v", t.Role, err))
		return
	}
	e.emit(r, tracepkg.EventBackendResolved, t.ID, map[string]any{
		"backend":   h.Name(),
		"model":     h.Model(),
		"preferred": arm.BackendName,
	})
	span.SetAttributes(
		attribute.String(observability.AttrBackend, h.Name()),
		attribute.String(observability.AttrModel, h.Model()),
	)

	// 3. Retrieve supporting material.
	payload := r.payloadFor(t)
	refs := e.retrieve(ctx, r, t, payload)

	// 4. Render the prompt.
	prompt := e.render(r, t, arm, payload, refs)

	// 5. Invoke the backend; failures go through the retry path.
	resp, err := e.invoke(ctx, h, prompt)
	if err != nil {
		e.handleInvokeFailure(ctx, span, r, t, arm, h, err)
		return
	}
	e.recordUsage(ctx, r, t, h, resp.Signal)
	invoked := map[string]any{
		"backend":   h.Name(),
		"model":     h.Model(),
		"latencyMs": resp.Latency.Milliseconds(),
		"chars":     len(resp.Text),
	}
	if resp.Usage != nil {
		invoked["promptTokens"] = resp.Usage.PromptTokens
		invoked["completionTokens"] = resp.Usage.CompletionTokens
	}
	e.emit(r, tracepkg.EventBackendInvoked, t.ID, invoked)

	// 6. Evaluate and feed the selector.
	reward := e.evaluate(ctx, r, t, resp.Text)
	threshold := r.directive.Policies.ApprovalThreshold
	e.emit(r, tracepkg.EventTaskEvaluated, t.ID, map[string]any{
		"reward":    reward,
		"threshold": threshold,
		"armId":     arm.ID,
	})
	e.metrics.RecordReward(ctx, t.Role, reward)
	span.SetAttributes(attribute.Float64(observability.AttrReward, reward))
	e.updateArm(r, t, arm.ID, reward)

	r.mu.Lock()
	if st := r.tasks[t.ID]; st != nil {
		st.lastReward = reward
		st.lastArmID = arm.ID
		st.backend = h.Name()
		st.lastOutput = resp.Text
	}
	r.mu.Unlock()

	// 7. Accept, retry or escalate.
	if reward >= threshold {
		e.accept(ctx, span, r, t, arm, h, resp.Text, reward)
		return
	}
	e.retryOrEscalate(ctx, span, r, t, fmt.Sprintf("reward %.2f below threshold %.2f", reward, threshold))
}

func (e *Engine) selectArm(role string) (selector.Arm, error) {
	arm, err := e.bandit.SelectArm(role)
	var noArms *selector.NoArmsAvailableError
	if errors.As(err, &noArms) && e.SeedRole(role) > 0 {
		return e.bandit.SelectArm(role)
	}
	return arm, err
}

func (e *Engine) resolve(r *run, role, preferred string) (backend.Handle, error) {
	skip := r.disabledNames()
	h, err := e.registry.Resolve(role, preferred, skip...)
	if err != nil && preferred != "" && errors.Is(err, backend.ErrUnknownBackend) {
		r.logger.Warn("arm backend %s is not registered, ranking alternatives", preferred)
		h, err = e.registry.Resolve(role, "", skip...)
	}
	return h, err
}

// usable reports whether role has a backend left that is not disabled.
func (e *Engine) usable(r *run, role string) bool {
	if role == "" {
		return false
	}
	e.SeedRole(role)
	skip := map[string]bool{}
	for _, name := range r.disabledNames() {
		skip[name] = true
	}
	for _, name := range e.registry.Eligible(role) {
		if !skip[name] {
			return true
		}
	}
	return false
}

func (r *run) payloadFor(t task.Task) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.artifacts[t.PayloadRef]; ok {
		return a.Text
	}
	if t.Origin == task.OriginEscalation {
		if parent := r.tasks[t.ParentID]; parent != nil {
			return parent.lastOutput
		}
	}
	return ""
}

func (e *Engine) retrieve(ctx context.Context, r *run, t task.Task, payload string) []ports.Reference {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.InvokeTimeout)
	defer cancel()
	refs, err := e.retriever.Retrieve(rctx, ports.RetrievalQuery{
		DirectiveID: r.directive.Metadata.ID,
		Task:        t,
		Payload:     payload,
	})
	sources := make([]string, 0, len(refs))
	for _, ref := range refs {
		sources = append(sources, ref.Source)
	}
	fields := map[string]any{"references": len(refs), "sources": sources}
	if err != nil {
		r.logger.Warn("retrieve context for %s failed: %v", t.ID, err)
		fields["error"] = err.Error()
		refs = nil
	}
	e.emit(r, tracepkg.EventContextRetrieved, t.ID, fields)
	return refs
}

// render falls back to the serialized context bundle when the template is
// missing or fails.
func (e *Engine) render(r *run, t task.Task, arm selector.Arm, payload string, refs []ports.Reference) string {
	pc := ports.PromptContext{
		Directive:  r.directive.Metadata,
		Task:       t,
		Variant:    arm.PromptVariant,
		Payload:    payload,
		References: refs,
		Attempt:    t.Retries,
	}
	prompt, err := e.renderer.Render(t.PromptTemplateID, pc)
	fallback := ""
	if err != nil {
		if !errors.Is(err, ports.ErrTemplateNotFound) {
			r.logger.Warn("render %s for %s failed: %v", t.PromptTemplateID, t.ID, err)
		}
		fallback = err.Error()
		data, merr := jsonx.MarshalIndent(pc, "", "  ")
		if merr != nil {
			data = []byte(fmt.Sprintf("%s\n\n%s", t.Title, payload))
		}
		prompt = string(data)
	}
	fields := map[string]any{
		"templateId": t.PromptTemplateID,
		"variant":    arm.PromptVariant,
		"chars":      len(prompt),
		"fallback":   fallback != "",
	}
	if fallback != "" {
		fields["reason"] = fallback
	}
	e.emit(r, tracepkg.EventPromptRendered, t.ID, fields)
	return prompt
}

func (e *Engine) invoke(ctx context.Context, h backend.Handle, prompt string) (backend.Response, error) {
	ictx, cancel := context.WithTimeout(ctx, e.cfg.InvokeTimeout)
	defer cancel()
	ictx, span := e.tracer.StartSpan(ictx, observability.SpanBackendCall,
		attribute.String(observability.AttrBackend, h.Name()),
		attribute.String(observability.AttrModel, h.Model()),
	)
	defer span.End()

	start := e.now()
	resp, err := h.Invoke(ictx, prompt)
	status := "ok"
	if err != nil {
		status = string(backend.Classify(err))
		span.SetAttributes(observability.ErrorAttrs(err)...)
	}
	latency := resp.Latency
	if latency == 0 {
		latency = e.now().Sub(start)
	}
	in, out := 0, 0
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	e.metrics.RecordBackendCall(ctx, h.Name(), h.Model(), status, latency, in, out)
	return resp, err
}

func (e *Engine) handleInvokeFailure(ctx context.Context, span trace.Span, r *run, t task.Task, arm selector.Arm, h backend.Handle, err error) {
	kind := backend.Classify(err)
	var sig usage.Signal
	if rl, ok := backend.AsRateLimit(err); ok {
		sig = rl.Signal
	}
	e.recordUsage(ctx, r, t, h, sig)
	e.emit(r, tracepkg.EventBackendFailed, t.ID, map[string]any{
		"backend": h.Name(),
		"model":   h.Model(),
		"kind":    string(kind),
		"error":   err.Error(),
	})

	if ae, ok := backend.AsAuth(err); ok {
		if r.disable(h.Name(), ae) {
			r.logger.Error("backend %s disabled for run: %v", h.Name(), ae)
			e.emit(r, tracepkg.EventBackendDisabled, t.ID, map[string]any{
				"backend": h.Name(),
				"reason":  ae.Error(),
			})
		}
	} else {
		e.updateArm(r, t, arm.ID, 0)
	}

	r.mu.Lock()
	if st := r.tasks[t.ID]; st != nil {
		st.lastReward = 0
		st.lastArmID = arm.ID
		st.backend = h.Name()
	}
	r.mu.Unlock()
	e.retryOrEscalate(ctx, span, r, t, fmt.Sprintf("%s failure from %s: %v", kind, h.Name(), err))
}

func (e *Engine) recordUsage(ctx context.Context, r *run, t task.Task, h backend.Handle, sig usage.Signal) {
	rec := e.ledger.RecordOutcome(h.Name(), h.Model(), sig)
	fields := map[string]any{
		"backend":    h.Name(),
		"model":      h.Model(),
		"score":      e.ledger.Score(h.Name(), h.Model()),
		"totalCalls": rec.TotalCalls,
		"throttled":  rec.Throttled,
	}
	if rec.HasQuota {
		fields["remaining"] = rec.Remaining
		fields["limit"] = rec.Limit
	}
	if rec.Throttled {
		fields["throttledUntil"] = rec.ThrottledUntil
		e.metrics.RecordThrottle(ctx, h.Name())
	}
	e.emit(r, tracepkg.EventUsageRecorded, t.ID, fields)
}

func (e *Engine) evaluate(ctx context.Context, r *run, t task.Task, output string) float64 {
	ectx, cancel := context.WithTimeout(backend.WithSkip(ctx, r.disabledNames()...), e.cfg.InvokeTimeout)
	defer cancel()
	reward, err := e.evaluator.Evaluate(ectx, t, output)
	if err != nil {
		r.logger.Warn("evaluate %s failed, scoring 0: %v", t.ID, err)
		return 0
	}
	switch {
	case math.IsNaN(reward) || reward < 0:
		return 0
	case reward > 1:
		return 1
	}
	return reward
}

func (e *Engine) updateArm(r *run, t task.Task, armID string, reward float64) {
	arm, err := e.bandit.Update(armID, reward)
	if err != nil {
		r.logger.Warn("update arm %s: %v", armID, err)
		return
	}
	e.emit(r, tracepkg.EventSelectorUpdated, t.ID, map[string]any{
		"armId":  arm.ID,
		"reward": reward,
		"win":    reward >= selector.WinThreshold,
		"wins":   arm.Wins,
		"plays":  arm.Plays,
	})
}

// accept indexes the output, enqueues declared follow-ups and marks t
// accepted. Follow-ups are enqueued first so the run never looks idle.
func (e *Engine) accept(ctx context.Context, span trace.Span, r *run, t task.Task, arm selector.Arm, h backend.Handle, text string, reward float64) {
	artifact := ports.Artifact{
		ID:          id.NewArtifactID(),
		RunID:       r.id,
		DirectiveID: r.directive.Metadata.ID,
		TaskID:      t.ID,
		Role:        t.Role,
		ArmID:       arm.ID,
		Backend:     h.Name(),
		Model:       h.Model(),
		Text:        text,
		Reward:      reward,
		CreatedAt:   e.now(),
	}
	ictx, cancel := context.WithTimeout(ctx, e.cfg.InvokeTimeout)
	indexErr := e.retriever.Index(ictx, artifact)
	cancel()
	indexed := map[string]any{"artifactId": artifact.ID}
	if indexErr != nil {
		r.logger.Warn("index artifact for %s failed: %v", t.ID, indexErr)
		indexed["error"] = indexErr.Error()
	}
	e.emit(r, tracepkg.EventArtifactIndexed, t.ID, indexed)

	r.mu.Lock()
	r.artifacts[artifact.ID] = artifact
	r.artifactSeq = append(r.artifactSeq, artifact.ID)
	if st := r.tasks[t.ID]; st != nil {
		st.artifactID = artifact.ID
	}
	r.mu.Unlock()

	var followIDs []string
	for _, ft := range followUpTasks(t, artifact.ID, ParseFollowUps(text)) {
		e.SeedRole(ft.Role)
		if err := e.enqueue(r, ft); err != nil {
			r.logger.Warn("follow-up %s of %s rejected: %v", ft.ID, t.ID, err)
			continue
		}
		followIDs = append(followIDs, ft.ID)
		e.emit(r, tracepkg.EventTaskFollowUp, t.ID, map[string]any{
			"followUpId": ft.ID,
			"title":      ft.Title,
			"role":       ft.Role,
		})
	}
	if len(followIDs) > 0 {
		r.mu.Lock()
		if st := r.tasks[t.ID]; st != nil {
			st.followUps = append(st.followUps, followIDs...)
		}
		r.mu.Unlock()
	}

	if err := r.queue.MarkAccepted(t); err != nil {
		r.logger.Error("mark %s accepted: %v", t.ID, err)
		return
	}
	e.emit(r, tracepkg.EventTaskAccepted, t.ID, map[string]any{
		"reward":     reward,
		"retries":    t.Retries,
		"artifactId": artifact.ID,
		"followUps":  len(followIDs),
	})
	e.metrics.RecordOutcome(ctx, t.Role, "accepted")
	span.SetAttributes(attribute.String(observability.AttrOutcome, "accepted"))
	r.logger.Info("task %s accepted (reward %.2f, %s)", t.ID, reward, h.Name())
}

func (e *Engine) retryOrEscalate(ctx context.Context, span trace.Span, r *run, t task.Task, reason string) {
	t.Retries++
	r.mu.Lock()
	if st := r.tasks[t.ID]; st != nil {
		st.task = t
	}
	r.mu.Unlock()

	if t.Retries <= r.directive.Policies.MaxRetries {
		delay := e.cfg.RetryBackoff
		// Recorded first: with no backoff another worker may pick t up at once.
		e.emit(r, tracepkg.EventTaskRequeued, t.ID, map[string]any{
			"retries": t.Retries,
			"delayMs": delay.Milliseconds(),
			"dueAt":   e.now().Add(delay).Format(time.RFC3339Nano),
			"reason":  reason,
		})
		if err := r.queue.Requeue(t, delay); err != nil {
			r.logger.Error("requeue %s: %v", t.ID, err)
			return
		}
		e.metrics.RecordOutcome(ctx, t.Role, "requeued")
		span.SetAttributes(attribute.String(observability.AttrOutcome, "requeued"))
		r.logger.Debug("task %s requeued (retry %d): %s", t.ID, t.Retries, reason)
		return
	}
	e.escalate(ctx, span, r, t, reason)
}

// escalate hands t to the lead role and marks it terminal. The escalation task
// is only created when the lead role still has a usable backend.
func (e *Engine) escalate(ctx context.Context, span trace.Span, r *run, t task.Task, reason string) {
	lead := r.directive.Policies.LeadRole
	escID := ""
	// No escalation task when the lead role has nothing left to call; it could
	// only fail and escalate again. Escalation depth is otherwise unbounded.
	if e.usable(r, lead) {
		esc := task.Task{
			ID:                 escalationPrefix + t.ID,
			Title:              t.Title,
			Role:               lead,
			PromptTemplateID:   EscalationTemplate,
			AcceptanceCriteria: t.AcceptanceCriteria,
			ParentID:           t.ID,
			Origin:             task.OriginEscalation,
		}
		if err := e.enqueue(r, esc); err != nil {
			r.logger.Warn("escalation task for %s rejected: %v", t.ID, err)
		} else {
			escID = esc.ID
		}
	} else {
		r.logger.Warn("lead role %q has no usable backend; %s ends escalated", lead, t.ID)
	}

	if err := r.queue.MarkEscalated(t); err != nil {
		r.logger.Error("mark %s escalated: %v", t.ID, err)
		return
	}
	r.mu.Lock()
	r.escalations = append(r.escalations, Escalation{TaskID: t.ID, EscalationTaskID: escID, Role: lead, Reason: reason})
	r.mu.Unlock()
	e.emit(r, tracepkg.EventTaskEscalated, t.ID, map[string]any{
		"retries":          t.Retries,
		"role":             lead,
		"escalationTaskId": escID,
		"reason":           reason,
	})
	e.metrics.RecordOutcome(ctx, t.Role, "escalated")
	span.SetAttributes(attribute.String(observability.AttrOutcome, "escalated"))
	r.logger.Info("task %s escalated to %s: %s", t.ID, lead, reason)
}
