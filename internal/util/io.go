// io.go reads Franz source from a file, an inline -c string, or stdin
// with a short timeout so a franz invocation with no input does not hang
// forever.
package util

import (
	"bufio"
	"errors"
	"io/ioutil"
	"os"
	"time"
)

// ReadSource returns the Franz source text to compile: the inline string
// from -c if set, otherwise the named file, otherwise a short wait on
// stdin.
func ReadSource(opt Options) (string, error) {
	if opt.Inline != "" {
		return opt.Inline, nil
	}
	if opt.Src != "" {
		b, err := ioutil.ReadFile(opt.Src)
		return string(b), err
	}
	c := make(chan string, 1)
	cerr := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		b, err := ioutil.ReadAll(reader)
		if err != nil {
			cerr <- err
			return
		}
		c <- string(b)
	}()
	select {
	case <-time.After(500 * time.Millisecond):
		return "", errors.New("expected input from stdin, got none")
	case s := <-c:
		return s, nil
	case err := <-cerr:
		return "", err
	}
}
