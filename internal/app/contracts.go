package app

type AnalyzeService interface {
	Analyze(source string) (*Report, error)
	Match(source string, paths []string) ([]PathMatch, error)
}
