package command

import (
	"sort"
	"time"

	"github.com/yndnr/sessionguard/internal/cli/output"
	"github.com/yndnr/sessionguard/internal/core/domain"
)

// stateView is the rendered form of a session state.
type stateView struct {
	Status    string       `json:"status" yaml:"status"`
	SubjectID string       `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	Reason    string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Seq       uint64       `json:"seq" yaml:"seq"`
	Profile   *profileView `json:"profile,omitempty" yaml:"profile,omitempty"`
}

func newStateView(st domain.AuthState) stateView {
	v := stateView{
		Status:    st.Status.String(),
		SubjectID: st.SubjectID,
		Error:     st.ErrorMessage(),
		Seq:       st.Seq,
	}
	if st.Reason != domain.KindNone {
		v.Reason = st.Reason.String()
	}
	if !st.ExpiresAt.IsZero() {
		exp := st.ExpiresAt
		v.ExpiresAt = &exp
	}
	if st.Profile != nil {
		p := newProfileView(st.Profile)
		v.Profile = &p
	}
	return v
}

// Table implements output.Tabular.
func (v stateView) Table() *output.Table {
	t := output.NewTable("FIELD", "VALUE").
		AddRow("status", v.Status).
		AddRow("subject_id", v.SubjectID).
		AddRow("reason", v.Reason).
		AddRow("error", v.Error).
		AddRow("seq", v.Seq)
	if v.ExpiresAt != nil {
		t.AddRow("expires_at", *v.ExpiresAt)
	}
	if v.Profile != nil {
		t.AddRow("profile.version", v.Profile.Version)
		for _, k := range sortedKeys(v.Profile.Fields) {
			t.AddRow("profile."+k, v.Profile.Fields[k])
		}
	}
	return t
}

// profileView is the rendered form of a user profile.
type profileView struct {
	SubjectID string         `json:"subject_id" yaml:"subject_id"`
	Version   uint64         `json:"version" yaml:"version"`
	Fields    map[string]any `json:"fields" yaml:"fields"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

func newProfileView(p *domain.UserProfile) profileView {
	return profileView{
		SubjectID: p.SubjectID,
		Version:   p.Version,
		Fields:    domain.CloneFields(p.Fields),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Table implements output.Tabular.
func (v profileView) Table() *output.Table {
	t := output.NewTable("FIELD", "VALUE").
		AddRow("subject_id", v.SubjectID).
		AddRow("version", v.Version).
		AddRow("created_at", v.CreatedAt).
		AddRow("updated_at", v.UpdatedAt)
	for _, k := range sortedKeys(v.Fields) {
		t.AddRow("fields."+k, v.Fields[k])
	}
	return t
}

// transitionView is one line of the watch stream.
type transitionView struct {
	Time      time.Time `json:"time" yaml:"time"`
	Seq       uint64    `json:"seq" yaml:"seq"`
	Status    string    `json:"status" yaml:"status"`
	SubjectID string    `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func newTransitionView(st domain.AuthState) transitionView {
	v := transitionView{
		Time:      st.ChangedAt,
		Seq:       st.Seq,
		Status:    st.Status.String(),
		SubjectID: st.SubjectID,
	}
	if st.Reason != domain.KindNone {
		v.Reason = st.Reason.String()
	}
	return v
}

// Table implements output.Tabular.
func (v transitionView) Table() *output.Table {
	return output.NewTable("TIME", "SEQ", "STATUS", "SUBJECT", "REASON").
		AddRow(v.Time, v.Seq, v.Status, v.SubjectID, v.Reason)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
