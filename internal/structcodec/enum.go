// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package structcodec

import "fmt"

// EnumDict maps assigned numbers to names. Decoders never fail on an
// unrecognized code: Name falls through to a "0x%02x"-style rendering of
// the raw value, so unknown opcodes/registers are always rendered as hex
// rather than raising.
type EnumDict map[uint32]string

// Name returns the symbolic name for v, or a hex fallback if v is unknown.
func (e EnumDict) Name(v uint32) string {
	if name, ok := e[v]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", v)
}
