package executor

import "errors"

// ErrTemplateTimeout marks a (target, template) execution that
// exceeded the configured template timeout. It fails that unit only,
// never the scan.
var ErrTemplateTimeout = errors.New("template execution timed out")
