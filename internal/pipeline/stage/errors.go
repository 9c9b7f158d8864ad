package stage

import "errors"

var errNoCompleter = errors.New("no language model configured")
