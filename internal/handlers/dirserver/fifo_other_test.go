//go:build !unix

package dirserver_test

import "errors"

func mkfifo(string) error { return errors.New("not supported") }
