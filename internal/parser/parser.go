package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/knolmark/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	separator      = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
)

// ParseFile reads a file from the given path and extracts all pairs.
func ParseFile(path string) ([]domain.QA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse extracts question/answer pairs written as "Q:" and "A:" blocks.
// Blocks may span several lines; "---" or a new "Q:" ends a pair. Pairs
// missing either side are dropped.
func Parse(r io.Reader) ([]domain.QA, error) {
	scanner := bufio.NewScanner(r)
	var pairs []domain.QA
	var current domain.QA
	var block []string
	currentState := seeking

	flushBlock := func() {
		content := strings.TrimSpace(strings.Join(block, "\n"))
		switch currentState {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		}
		block = nil
	}

	finishPair := func() {
		flushBlock()
		if current.Question != "" && current.Answer != "" {
			pairs = append(pairs, current)
		}
		current = domain.QA{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.TrimSpace(line) == separator:
			finishPair()
		case strings.HasPrefix(line, questionPrefix):
			// A new question always starts a new pair.
			finishPair()
			currentState = readingQuestion
			block = append(block, trimPrefix(line, questionPrefix))
		case strings.HasPrefix(line, answerPrefix):
			flushBlock()
			currentState = readingAnswer
			block = append(block, trimPrefix(line, answerPrefix))
		case currentState != seeking:
			block = append(block, line)
		}
	}

	finishPair() // Finish the very last pair in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return pairs, nil
}

func trimPrefix(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}
