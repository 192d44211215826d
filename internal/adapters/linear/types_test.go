package linear

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	dateOnly := "2025-06-30"
	if got := parseDate(&dateOnly); got == nil || got.Format("2006-01-02") != dateOnly {
		t.Fatalf("parseDate(%q) = %v", dateOnly, got)
	}
	stamped := "2025-06-30T10:30:00Z"
	if got := parseDate(&stamped); got == nil || got.Hour() != 10 {
		t.Fatalf("parseDate(%q) = %v", stamped, got)
	}
	empty := ""
	if parseDate(&empty) != nil || parseDate(nil) != nil {
		t.Fatal("empty and nil must parse to nil")
	}
	junk := "not a date"
	if parseDate(&junk) != nil {
		t.Fatal("garbage must parse to nil")
	}
}

func TestIssueNodeToDomain(t *testing.T) {
	raw := `{
		"id": "abc",
		"identifier": "ENG-42",
		"title": "Fix login",
		"estimate": 3,
		"priority": 2,
		"createdAt": "2025-06-01T00:00:00Z",
		"updatedAt": "2025-06-02T00:00:00Z",
		"team": {"key": "ENG"},
		"state": {"name": "In Progress", "type": "started"},
		"assignee": {"id": "u1", "name": "Ada", "avatarUrl": "http://a"},
		"parent": {"id": "parent-1"},
		"project": {"id": "p1"},
		"labels": {"nodes": [{"name": "bug"}]},
		"comments": {"nodes": [
			{"createdAt": "2025-06-05T09:00:00Z"},
			{"createdAt": "2025-06-04T09:00:00Z"},
			{"createdAt": "2025-06-03T09:00:00Z"}
		]}
	}`
	var n issueNode
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	i := n.toDomain()
	if i.Key != "ENG-42" || i.TeamKey != "ENG" || i.StateName != "In Progress" {
		t.Fatalf("basic fields: %+v", i)
	}
	if i.Estimate == nil || *i.Estimate != 3 {
		t.Fatalf("estimate = %v", i.Estimate)
	}
	if !i.IsSubissue() || i.ParentID != "parent-1" {
		t.Fatalf("parent: %+v", i)
	}
	if i.ProjectID != "p1" || i.AssigneeName != "Ada" {
		t.Fatalf("refs: %+v", i)
	}
	// Newest-first connection: first node is the latest comment, length is
	// the count.
	if i.LastCommentAt == nil || !i.LastCommentAt.Equal(time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("last comment = %v", i.LastCommentAt)
	}
	if i.CommentCount != 3 || len(i.Labels) != 1 {
		t.Fatalf("counts: %+v", i)
	}
}

func TestProjectNodeLastUpdate(t *testing.T) {
	raw := `{
		"id": "p1",
		"name": "Ingestion",
		"state": "started",
		"targetDate": "2025-09-01",
		"updatedAt": "2025-06-02T00:00:00Z",
		"projectUpdates": {"nodes": [
			{"body": "older", "health": "onTrack", "createdAt": "2025-05-01T00:00:00Z", "user": {"name": "Ada"}},
			{"body": "newer", "health": "atRisk", "createdAt": "2025-06-01T00:00:00Z", "user": {"name": "Grace"}}
		]}
	}`
	var n projectNode
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p := n.toDomain()
	if p.TargetDate == nil || p.TargetDate.Format("2006-01-02") != "2025-09-01" {
		t.Fatalf("target date = %v", p.TargetDate)
	}
	if p.LastUpdateAt == nil || p.LastUpdateAt.Month() != time.June {
		t.Fatalf("last update = %v", p.LastUpdateAt)
	}
	if len(p.UpdateHistory) != 2 || p.UpdateHistory[1].Author != "Grace" {
		t.Fatalf("history = %+v", p.UpdateHistory)
	}
	// Without a status object the coarse state doubles as the status string.
	if p.Status != "started" {
		t.Fatalf("status fallback = %q", p.Status)
	}
}
