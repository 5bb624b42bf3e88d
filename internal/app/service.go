package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/awmpietro/cloudmake/internal/automaton"
	"github.com/awmpietro/cloudmake/internal/cloudmake"
)

var ErrEmptySource = errors.New("rules are required")

type Compiler interface {
	Compile(source string) (*cloudmake.Makefile, error)
}

type Cache interface {
	GetOrCompute(source string, fn func() (*Analysis, error)) (*Analysis, error)
}

type CompileObserver interface {
	ObserveCompile(durationSeconds float64, err error)
}

// Analysis is the cached result of compiling one source. It is shared
// between callers and must not be modified.
type Analysis struct {
	Makefile *cloudmake.Makefile
	Report   *Report
}

type Report struct {
	Predicates []PredicateInfo    `json:"predicates"`
	Policies   []cloudmake.Policy `json:"policies"`
	Tiers      [][]int            `json:"tiers"`
	Cyclic     bool               `json:"cyclic"`
	Components []ComponentInfo    `json:"components"`
	Nodes      []string           `json:"nodes"`
	Problems   []string           `json:"problems,omitempty"`
	DOT        string             `json:"dot"`
}

type PredicateInfo struct {
	ID      int    `json:"id"`
	Example string `json:"example"`
	Node    string `json:"node,omitempty"`
	Readers []int  `json:"readers"`
	Writers []int  `json:"writers"`
}

type ComponentInfo struct {
	Node     string `json:"node,omitempty"`
	Local    bool   `json:"local"`
	Cyclic   bool   `json:"cyclic"`
	Policies []int  `json:"policies"`
}

// PathMatch tells which predicates accept a path and which could still
// accept something below it.
type PathMatch struct {
	Path     string `json:"path"`
	Accepted []int  `json:"accepted"`
	Prefix   []int  `json:"prefix"`
}

type Service struct {
	compiler Compiler
	cache    Cache
	observer CompileObserver
}

func NewService(compiler Compiler, cache Cache, observer CompileObserver) *Service {
	return &Service{compiler: compiler, cache: cache, observer: observer}
}

func (s *Service) analysis(source string) (*Analysis, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	return s.cache.GetOrCompute(source, func() (*Analysis, error) {
		start := time.Now()
		m, err := s.compiler.Compile(source)
		if s.observer != nil {
			s.observer.ObserveCompile(time.Since(start).Seconds(), err)
		}
		if err != nil {
			return nil, err
		}
		return analyze(m)
	})
}

// Analyze compiles source (cached) and describes the resulting makefile.
func (s *Service) Analyze(source string) (*Report, error) {
	a, err := s.analysis(source)
	if err != nil {
		return nil, err
	}
	return a.Report, nil
}

// Match classifies every path against the predicates of source.
func (s *Service) Match(source string, paths []string) ([]PathMatch, error) {
	a, err := s.analysis(source)
	if err != nil {
		return nil, err
	}
	out := make([]PathMatch, 0, len(paths))
	for _, path := range paths {
		pm := PathMatch{Path: path, Accepted: []int{}, Prefix: []int{}}
		for i, r := range a.Makefile.Responses(path) {
			switch r {
			case automaton.Accept:
				pm.Accepted = append(pm.Accepted, i)
			case automaton.NotReject:
				pm.Prefix = append(pm.Prefix, i)
			}
		}
		out = append(out, pm)
	}
	return out, nil
}

func analyze(m *cloudmake.Makefile) (*Analysis, error) {
	r := &Report{
		Policies: m.Policies(),
		Cyclic:   m.DetectCycles(),
	}
	r.Tiers = m.Tiers()

	for i, d := range m.Predicates() {
		info := PredicateInfo{ID: i, Readers: m.Readers(i), Writers: m.Writers(i)}
		info.Example, _ = d.Example()
		info.Node, _ = d.Node()
		r.Predicates = append(r.Predicates, info)
	}

	plan, err := cloudmake.NewPlan(m)
	if err != nil {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				r.Problems = append(r.Problems, e.Error())
			}
		} else {
			r.Problems = append(r.Problems, err.Error())
		}
	}
	for _, c := range plan.Components() {
		ci := ComponentInfo{Node: c.Node, Local: c.Local, Cyclic: c.Cyclic}
		for j := 0; j < c.Makefile.NumPolicies(); j++ {
			ci.Policies = append(ci.Policies, c.Makefile.PolicyOrigin(j))
		}
		r.Components = append(r.Components, ci)
	}
	r.Nodes = plan.Nodes()

	dot, err := cloudmake.DOT(m)
	if err != nil {
		return nil, fmt.Errorf("render dot: %w", err)
	}
	r.DOT = dot
	return &Analysis{Makefile: m, Report: r}, nil
}
