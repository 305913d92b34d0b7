// SPDX-License-Identifier: MPL-2.0

package pure

import "sort"

// Patch is one text edit: insert Text at byte offset Pos, and, when End is
// greater than Pos, delete the original span [Pos, End). Patches never
// overlap once sorted; each consumed span of the original text is emitted at
// most once.
type Patch struct {
	Pos  int
	End  int
	Text string
}

// applyPatches splices the patches into src in one left-to-right pass,
// interleaving insertion text between slices of the original. The input
// slice is sorted in place by position; the sort is stable so same-position
// patches keep their scheduling order.
func applyPatches(src string, patches []Patch) string {
	if len(patches) == 0 {
		return src
	}
	sort.SliceStable(patches, func(i, j int) bool { return patches[i].Pos < patches[j].Pos })

	var out []byte
	out = make([]byte, 0, len(src)+len(patches)*16)
	cursor := 0
	for _, p := range patches {
		if p.Pos < cursor {
			// Skip anything that would re-consume already emitted text.
			continue
		}
		out = append(out, src[cursor:p.Pos]...)
		out = append(out, p.Text...)
		cursor = p.Pos
		if p.End > p.Pos {
			cursor = p.End
		}
	}
	out = append(out, src[cursor:]...)
	return string(out)
}
