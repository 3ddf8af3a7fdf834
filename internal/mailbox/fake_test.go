package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mixelka/codewatch/pkg/models"
)

type fakeMessage struct {
	uid uint32
	raw []byte
	// first poll (1-based) on which the message shows up in search results
	visibleFrom int
}

type fakeSession struct {
	mu        sync.Mutex
	messages  []fakeMessage
	searchErr error
	fetchErr  error
	polls     int
	criteria  []models.SearchCriteria
	fetched   []uint32
	seen      []uint32
	closed    int
}

func (s *fakeSession) Search(_ context.Context, criteria models.SearchCriteria) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	s.criteria = append(s.criteria, criteria)
	if s.searchErr != nil {
		return nil, s.searchErr
	}

	var uids []uint32
	for _, m := range s.messages {
		if m.visibleFrom <= s.polls {
			uids = append(uids, m.uid)
		}
	}
	return uids, nil
}

func (s *fakeSession) Fetch(_ context.Context, uid uint32) (*models.CandidateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.fetched = append(s.fetched, uid)
	for _, m := range s.messages {
		if m.uid == uid {
			return &models.CandidateMessage{UID: uid, Raw: m.raw}, nil
		}
	}
	return nil, nil
}

func (s *fakeSession) MarkSeen(_ context.Context, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, uid)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeDialer struct {
	session  *fakeSession
	err      error
	calls    int
	readOnly bool
}

func (d *fakeDialer) Dial(_ context.Context, _ models.Credentials, readOnly bool) (Session, error) {
	d.calls++
	d.readOnly = readOnly
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

var errNetwork = errors.New("connection reset by peer")

func rawEmail(body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: recovery@example.com\r\n"+
		"Subject: Microsoft account security code\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", DefaultSender, body))
}
