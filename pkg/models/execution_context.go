package models

import (
	"strings"
	"time"
)

// RunContext is the payload a run is evaluated and parameterised against:
// a member record, event data, or just a scheduling tick.
type RunContext struct {
	TriggerType TriggerType    `json:"trigger_type"`
	Now         time.Time      `json:"now"`
	MemberID    string         `json:"member_id,omitempty"`
	EntityType  string         `json:"entity_type,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	Member      map[string]any `json:"member,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Steps       map[string]any `json:"steps,omitempty"`
}

// Lookup resolves a dotted field path against the context.
//
// "member.tier" and "data.amount" address those maps explicitly. A bare path is
// tried against Data first, then Member, so {"tier": "gold"} works for either.
func (rc *RunContext) Lookup(path string) (any, bool) {
	if rc == nil || path == "" {
		return nil, false
	}

	head, rest, _ := strings.Cut(path, ".")

	switch head {
	case "member":
		if rest == "" {
			return rc.Member, rc.Member != nil
		}

		return lookupPath(rc.Member, rest)
	case "data":
		if rest == "" {
			return rc.Data, rc.Data != nil
		}

		return lookupPath(rc.Data, rest)
	case "steps":
		return lookupPath(rc.Steps, rest)
	case "member_id":
		return rc.MemberID, rc.MemberID != ""
	case "trigger_type":
		return string(rc.TriggerType), rc.TriggerType != ""
	}

	if v, ok := lookupPath(rc.Data, path); ok {
		return v, true
	}

	return lookupPath(rc.Member, path)
}

// RecordStep stores an action's output so later actions can template against it.
func (rc *RunContext) RecordStep(id string, output map[string]any) {
	if id == "" || output == nil {
		return
	}

	if rc.Steps == nil {
		rc.Steps = make(map[string]any)
	}

	rc.Steps[id] = output
}

// TemplateData exposes the context to action config templates.
func (rc *RunContext) TemplateData() map[string]any {
	return map[string]any{
		"trigger_type": string(rc.TriggerType),
		"now":          rc.Now,
		"member_id":    rc.MemberID,
		"entity_type":  rc.EntityType,
		"entity_id":    rc.EntityID,
		"member":       rc.Member,
		"data":         rc.Data,
		"steps":        rc.Steps,
	}
}

// Clone copies the context so a continuation does not share maps with its parent.
func (rc *RunContext) Clone() *RunContext {
	if rc == nil {
		return &RunContext{}
	}

	c := *rc
	c.Member = cloneMap(rc.Member)
	c.Data = cloneMap(rc.Data)
	c.Steps = cloneMap(rc.Steps)

	return &c
}

func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	var current any = root

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
