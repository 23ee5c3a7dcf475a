package submission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"drp/internal/form"
)

// memStore is an in-memory Store. A transaction works on a copy of the state
// and only a successful commit publishes it.
type memStore struct {
	mu    sync.Mutex
	state memState

	failProjection bool
}

type memState struct {
	respondents    map[int64]Respondent
	tokens         map[string]int64
	questionnaires map[int64]Questionnaire
	versions       map[int64]Version
	versionOwner   map[int64]int64
	submissions    map[int64]Submission
	files          []File
	projection     map[int64]map[string]string
	access         []AccessEntry
	nextID         int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		respondents:    map[int64]Respondent{},
		tokens:         map[string]int64{},
		questionnaires: map[int64]Questionnaire{},
		versions:       map[int64]Version{},
		versionOwner:   map[int64]int64{},
		submissions:    map[int64]Submission{},
		projection:     map[int64]map[string]string{},
		nextID:         100,
	}}
}

func (s memState) clone() memState {
	out := memState{
		respondents:    make(map[int64]Respondent, len(s.respondents)),
		tokens:         make(map[string]int64, len(s.tokens)),
		questionnaires: make(map[int64]Questionnaire, len(s.questionnaires)),
		versions:       make(map[int64]Version, len(s.versions)),
		versionOwner:   make(map[int64]int64, len(s.versionOwner)),
		submissions:    make(map[int64]Submission, len(s.submissions)),
		files:          append([]File(nil), s.files...),
		projection:     make(map[int64]map[string]string, len(s.projection)),
		access:         append([]AccessEntry(nil), s.access...),
		nextID:         s.nextID,
	}
	for k, v := range s.respondents {
		out.respondents[k] = v
	}
	for k, v := range s.tokens {
		out.tokens[k] = v
	}
	for k, v := range s.questionnaires {
		out.questionnaires[k] = v
	}
	for k, v := range s.versions {
		out.versions[k] = v
	}
	for k, v := range s.versionOwner {
		out.versionOwner[k] = v
	}
	for k, v := range s.submissions {
		v.Answers = copyAnswers(v.Answers)
		out.submissions[k] = v
	}
	for k, rows := range s.projection {
		m := make(map[string]string, len(rows))
		for variable, value := range rows {
			m[variable] = value
		}
		out.projection[k] = m
	}
	return out
}

func copyAnswers(a form.Answers) form.Answers {
	if a == nil {
		return nil
	}
	out := make(form.Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func (m *memStore) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	return &memTx{store: m, st: m.state.clone()}, nil
}

// seeding helpers run outside transactions.

func (m *memStore) addQuestionnaire(q Questionnaire) {
	m.state.questionnaires[q.ID] = q
}

func (m *memStore) publish(questionnaireID int64, def form.Definition) Version {
	number := 0
	for id, owner := range m.state.versionOwner {
		if owner == questionnaireID && m.state.versions[id].Number > number {
			number = m.state.versions[id].Number
		}
	}
	m.state.nextID++
	v := Version{ID: m.state.nextID, Number: number + 1, Definition: def, CreatedAt: time.Now()}
	m.state.versions[v.ID] = v
	m.state.versionOwner[v.ID] = questionnaireID
	return v
}

func (m *memStore) addRespondent(r Respondent, token string) {
	m.state.respondents[r.ID] = r
	m.state.tokens[HashToken(token)] = r.ID
}

func (m *memStore) respondent(id int64) Respondent {
	return m.state.respondents[id]
}

func (m *memStore) submission(respondentID int64) (Submission, bool) {
	s, ok := m.state.submissions[respondentID]
	return s, ok
}

func (m *memStore) projectionOf(respondentID int64) map[string]string {
	return m.state.projection[respondentID]
}

type memTx struct {
	store *memStore
	st    memState
	done  bool
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("tx already finished")
	}
	t.store.state = t.st
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) RespondentByTokenHash(ctx context.Context, tokenHash string) (*Respondent, error) {
	id, ok := t.st.tokens[tokenHash]
	if !ok {
		return nil, ErrRespondentNotFound
	}
	r := t.st.respondents[id]
	return &r, nil
}

func (t *memTx) Questionnaire(ctx context.Context, id int64) (*Questionnaire, error) {
	q, ok := t.st.questionnaires[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (t *memTx) LatestVersion(ctx context.Context, questionnaireID int64) (*Version, error) {
	var latest *Version
	for id, owner := range t.st.versionOwner {
		if owner != questionnaireID {
			continue
		}
		v := t.st.versions[id]
		if latest == nil || v.Number > latest.Number {
			latest = &v
		}
	}
	return latest, nil
}

func (t *memTx) Version(ctx context.Context, id int64) (*Version, error) {
	v, ok := t.st.versions[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (t *memTx) Submission(ctx context.Context, respondentID int64) (*Submission, error) {
	s, ok := t.st.submissions[respondentID]
	if !ok {
		return nil, nil
	}
	s.Answers = copyAnswers(s.Answers)
	return &s, nil
}

func (t *memTx) SaveSubmission(ctx context.Context, sub *Submission) error {
	now := time.Now()
	existing, ok := t.st.submissions[sub.RespondentID]
	if ok {
		sub.ID = existing.ID
		sub.VersionID = existing.VersionID
		sub.CreatedAt = existing.CreatedAt
		sub.Revision = existing.Revision + 1
		if sub.SubmittedAt == nil {
			sub.SubmittedAt = existing.SubmittedAt
		}
	} else {
		t.st.nextID++
		sub.ID = t.st.nextID
		sub.CreatedAt = now
		sub.Revision = 1
	}
	sub.UpdatedAt = now
	stored := *sub
	stored.Answers = copyAnswers(sub.Answers)
	t.st.submissions[sub.RespondentID] = stored
	return nil
}

func (t *memTx) SetRespondentStatus(ctx context.Context, respondentID int64, status string) error {
	r := t.st.respondents[respondentID]
	r.Status = status
	t.st.respondents[respondentID] = r
	return nil
}

func (t *memTx) StampFirstAccess(ctx context.Context, respondentID int64, at time.Time) error {
	r := t.st.respondents[respondentID]
	if r.FirstAccessedAt == nil {
		r.FirstAccessedAt = &at
	}
	t.st.respondents[respondentID] = r
	return nil
}

func (t *memTx) InsertAccess(ctx context.Context, entry AccessEntry) error {
	t.st.access = append(t.st.access, entry)
	return nil
}

func (t *memTx) UpsertProjection(ctx context.Context, respondentID int64, pairs []form.Pair) error {
	if t.store.failProjection {
		return errors.New("projection write failed")
	}
	rows := t.st.projection[respondentID]
	if rows == nil {
		rows = map[string]string{}
		t.st.projection[respondentID] = rows
	}
	for _, p := range pairs {
		rows[p.Variable] = p.Value
	}
	return nil
}

func (t *memTx) Files(ctx context.Context, respondentID int64) ([]File, error) {
	out := make([]File, 0)
	for _, f := range t.st.files {
		if f.RespondentID == respondentID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) InsertFile(ctx context.Context, f *File) error {
	t.st.files = append(t.st.files, *f)
	return nil
}

func (t *memTx) DeleteFile(ctx context.Context, respondentID int64, fileID string) error {
	for i, f := range t.st.files {
		if f.ID == fileID && f.RespondentID == respondentID {
			t.st.files = append(t.st.files[:i], t.st.files[i+1:]...)
			return nil
		}
	}
	return ErrFileNotFound
}

type memFiles struct {
	mu    sync.Mutex
	blobs map[string][]byte
	seq   int
}

func newMemFiles() *memFiles {
	return &memFiles{blobs: map[string][]byte{}}
}

func (m *memFiles) Save(ctx context.Context, originalName string, body io.Reader, maxBytes int64) (string, int64, error) {
	b, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return "", 0, err
	}
	if int64(len(b)) > maxBytes {
		return "", 0, ErrFileTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	name := originalName + "." + string(rune('a'+m.seq))
	m.blobs[name] = b
	return name, int64(len(b)), nil
}

func (m *memFiles) Open(ctx context.Context, storedName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[storedName]
	if !ok {
		return nil, ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memFiles) Remove(ctx context.Context, storedName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, storedName)
	return nil
}

func (m *memFiles) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
