// Package store is the in-memory document store: the currently loaded
// document of every session and its annotation list. Nothing here touches disk.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pdfmark/internal/annotation"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoDocument         = errors.New("no document loaded")
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrDuplicateID        = errors.New("duplicate annotation id")
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func New() *Store {
	return &Store{sessions: make(map[string]*Session), now: time.Now}
}

// Touch returns the session, creating it if needed, and marks it as seen.
func (s *Store) Touch(sessionID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(sessionID)
	return snapshot(sess)
}

// Session returns a copy of an existing session.
func (s *Store) Session(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return snapshot(sess), nil
}

// SetDocument replaces the session's document wholesale, dropping the previous
// document and its annotations.
func (s *Store) SetDocument(sessionID string, doc *Document) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(sessionID)
	d := doc.clone()
	if d.Annotations == nil {
		d.Annotations = []annotation.Annotation{}
	}
	now := s.now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	sess.Document = d
	sess.Selected = ""
	return d.clone()
}

// Document returns a copy of the session's current document.
func (s *Store) Document(sessionID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.document(sessionID)
	if err != nil {
		return nil, err
	}
	return doc.clone(), nil
}

// CloseSession forgets the session and its document.
func (s *Store) CloseSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// AddAnnotation validates a and appends it to the session's document.
// A missing ID or timestamp is filled in.
func (s *Store) AddAnnotation(sessionID string, a annotation.Annotation) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.mutable(sessionID)
	if err != nil {
		return annotation.Annotation{}, err
	}
	if err := a.Normalize(); err != nil {
		return annotation.Annotation{}, err
	}
	if err := checkPage(doc, a.PageNumber); err != nil {
		return annotation.Annotation{}, err
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		a = annotation.New(a)
	}
	if doc.index(a.ID) >= 0 {
		return annotation.Annotation{}, fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
	}
	a = a.Clone()
	doc.Annotations = append(doc.Annotations, a)
	doc.UpdatedAt = s.now().UTC()
	return a.Clone(), nil
}

// UpdateAnnotation merges patch into the annotation with the given id.
func (s *Store) UpdateAnnotation(sessionID, id string, patch annotation.Patch) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.mutable(sessionID)
	if err != nil {
		return annotation.Annotation{}, err
	}
	i := doc.index(id)
	if i < 0 {
		return annotation.Annotation{}, ErrAnnotationNotFound
	}
	updated, err := doc.Annotations[i].Apply(patch)
	if err != nil {
		return annotation.Annotation{}, err
	}
	if err := checkPage(doc, updated.PageNumber); err != nil {
		return annotation.Annotation{}, err
	}
	doc.Annotations[i] = updated.Clone()
	doc.UpdatedAt = s.now().UTC()
	return updated, nil
}

// DeleteAnnotation removes the annotation and clears it from the selection.
func (s *Store) DeleteAnnotation(sessionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.mutable(sessionID)
	if err != nil {
		return err
	}
	i := doc.index(id)
	if i < 0 {
		return ErrAnnotationNotFound
	}
	doc.Annotations = append(doc.Annotations[:i], doc.Annotations[i+1:]...)
	doc.UpdatedAt = s.now().UTC()
	if sess := s.sessions[sessionID]; sess.Selected == id {
		sess.Selected = ""
	}
	return nil
}

// ClearAnnotations empties the annotation list.
func (s *Store) ClearAnnotations(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.mutable(sessionID)
	if err != nil {
		return err
	}
	doc.Annotations = []annotation.Annotation{}
	doc.UpdatedAt = s.now().UTC()
	s.sessions[sessionID].Selected = ""
	return nil
}

// Annotations lists the session's annotations in creation order. page 0 means all pages.
func (s *Store) Annotations(sessionID string, page int) ([]annotation.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.document(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]annotation.Annotation, 0, len(doc.Annotations))
	for _, a := range doc.Annotations {
		if page == 0 || a.PageNumber == page {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// SetTool records the toolbar tool for the session. An empty tool deselects.
func (s *Store) SetTool(sessionID string, t annotation.Type) error {
	if t != "" {
		if _, err := annotation.ParseType(string(t)); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).Tool = t
	return nil
}

// SetColor records the toolbar color for the session.
func (s *Store) SetColor(sessionID, color string) error {
	c, err := annotation.NormalizeColor(color)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).Color = c
	return nil
}

// Select marks an annotation as selected; an empty id clears the selection.
func (s *Store) Select(sessionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		doc, err := s.document(sessionID)
		if err != nil {
			return err
		}
		if doc.index(id) < 0 {
			return ErrAnnotationNotFound
		}
	}
	s.session(sessionID).Selected = id
	return nil
}

// EvictIdle drops sessions not seen for ttl unless keep reports them as live.
// It returns the evicted session ids.
func (s *Store) EvictIdle(ttl time.Duration, keep func(sessionID string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	var evicted []string
	for id, sess := range s.sessions {
		if sess.LastSeen.After(cutoff) || (keep != nil && keep(id)) {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}
	return evicted
}

// Len is the number of open sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// session must be called with the write lock held.
func (s *Store) session(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id}
		s.sessions[id] = sess
	}
	sess.LastSeen = s.now()
	return sess
}

func (s *Store) document(sessionID string) (*Document, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Document == nil {
		return nil, ErrNoDocument
	}
	return sess.Document, nil
}

// mutable is document plus a LastSeen bump; call with the write lock held.
func (s *Store) mutable(sessionID string) (*Document, error) {
	doc, err := s.document(sessionID)
	if err != nil {
		return nil, err
	}
	s.sessions[sessionID].LastSeen = s.now()
	return doc, nil
}

func checkPage(doc *Document, page int) error {
	if page < 1 || (doc.PageCount > 0 && page > doc.PageCount) {
		return fmt.Errorf("%w: page %d of %d", annotation.ErrInvalidPage, page, doc.PageCount)
	}
	return nil
}

func snapshot(sess *Session) Session {
	out := *sess
	out.Document = sess.Document.clone()
	return out
}
