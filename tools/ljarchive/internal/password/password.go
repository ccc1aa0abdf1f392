// Package password asks for journal passwords and turns them into the digest the server expects.
package password

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Hash returns the md5 hex digest stored as password_hash.
func Hash(password string) string {
	return ljarchive.MD5Hex(password)
}

// Prompt writes prompt to w and reads one password from in. Terminal input is not echoed;
// other input is read up to the end of the line.
func Prompt(w io.Writer, in *os.File, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	var (
		password string
		err      error
	)
	if fd := int(in.Fd()); term.IsTerminal(fd) {
		var raw []byte
		raw, err = term.ReadPassword(fd)
		fmt.Fprintln(w)
		password = string(raw)
	} else {
		password, err = bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) && password != "" {
			err = nil
		}
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read password")
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
