package ledger

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRun_FinishedAtOmittedUntilSet(t *testing.T) {
	run := Run{ID: uuid.New(), Mode: "replace", Primary: SourceRootfi, Status: RunRunning, StartedAt: time.Now().UTC()}

	data, err := json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "finished_at") {
		t.Errorf("unfinished run should omit finished_at: %s", data)
	}

	done := run.StartedAt.Add(time.Second)
	run.FinishedAt = &done
	data, err = json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}
	var back Run
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.FinishedAt == nil || !back.FinishedAt.Equal(done) {
		t.Errorf("finished_at = %v, want %v", back.FinishedAt, done)
	}
}
