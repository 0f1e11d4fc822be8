package telegram

import (
	"slices"
	"sync"
	"time"

	"exam-grader/api/internal/grading"
)

const (
	targetRubric = "rubric"
	targetAnswer = "answer"

	maxFilesPerSide = 10
)

// session is what a chat has collected for its next grading.
type session struct {
	mu sync.Mutex

	question     string
	rubricText   string
	studentText  string
	rubricFiles  []grading.RawDocument
	studentFiles []grading.RawDocument

	// target receives the next files or plain text: "rubric" | "answer"
	target  string
	backend grading.BackendID
	model   string
	busy    bool
	seen    time.Time

	// jobs run one at a time in arrival order, off the update loop
	jobs    []func()
	running bool
}

var sessions sync.Map // chatID -> *session

func getSession(chatID int64) *session {
	v, _ := sessions.LoadOrStore(chatID, &session{target: targetAnswer})
	s := v.(*session)
	s.mu.Lock()
	s.seen = time.Now()
	s.mu.Unlock()
	return s
}

// evictIdle drops sessions untouched for longer than ttl. Sessions with a
// grading or a download in flight are kept.
func evictIdle(now time.Time, ttl time.Duration) int {
	n := 0
	sessions.Range(func(k, v any) bool {
		s := v.(*session)
		s.mu.Lock()
		idle := !s.busy && !s.running && now.Sub(s.seen) > ttl
		s.mu.Unlock()
		if idle {
			sessions.Delete(k)
			n++
		}
		return true
	})
	return n
}

// reset clears the collected material but keeps the engine choice.
func (s *session) reset() {
	s.question, s.rubricText, s.studentText = "", "", ""
	s.rubricFiles, s.studentFiles = nil, nil
	s.target = targetAnswer
}

func (s *session) setText(target, text string) {
	if target == targetRubric {
		s.rubricText, s.rubricFiles = text, nil
		return
	}
	s.studentText, s.studentFiles = text, nil
}

func (s *session) fileCount(target string) int {
	if target == targetRubric {
		return len(s.rubricFiles)
	}
	return len(s.studentFiles)
}

// addFile appends doc to the target side. ok is false when the side is full.
func (s *session) addFile(target string, doc grading.RawDocument) (n int, ok bool) {
	if s.fileCount(target) >= maxFilesPerSide {
		return s.fileCount(target), false
	}
	if target == targetRubric {
		s.rubricText = ""
		s.rubricFiles = append(s.rubricFiles, doc)
		return len(s.rubricFiles), true
	}
	s.studentText = ""
	s.studentFiles = append(s.studentFiles, doc)
	return len(s.studentFiles), true
}

// releaseGraded drops the files a finished grading used. Files that arrived
// while it ran are kept.
func (s *session) releaseGraded(rubric, student []grading.RawDocument) {
	s.rubricFiles = dropPrefix(s.rubricFiles, rubric)
	s.studentFiles = dropPrefix(s.studentFiles, student)
}

func dropPrefix(cur, graded []grading.RawDocument) []grading.RawDocument {
	if len(graded) == 0 || len(cur) < len(graded) || &cur[0] != &graded[0] {
		return cur
	}
	rest := cur[len(graded):]
	if len(rest) == 0 {
		return nil
	}
	// copy so the graded documents' backing array can be collected
	return slices.Clone(rest)
}

// enqueue runs job after every job queued earlier for the same chat.
func (s *session) enqueue(wg *sync.WaitGroup, job func()) {
	wg.Add(1)
	s.mu.Lock()
	s.jobs = append(s.jobs, func() {
		defer wg.Done()
		job()
	})
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

func (s *session) drain() {
	for {
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		job()
	}
}
