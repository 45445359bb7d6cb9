package types

import (
	"strings"
)

/*
Diff two sorted file lists and return their difference.
newItems: indexes into r of entries l lacks or holds with another size.
oldItems: indexes into l of entries only l has.
*/
func (l FileList) Diff(r FileList) (newItems []int, oldItems []int) {
	newItems = make([]int, 0)
	oldItems = make([]int, 0)
	i := 0 // index of l
	j := 0 // index of r

	for i < len(l) && j < len(r) {
		// 0: both have it, 1: only r has r[j], -1: only l has l[i]
		switch strings.Compare(l[i].Path, r[j].Path) {
		case 0:
			// mtime is not compared: object stores do not keep the source mtime.
			if l[i].Size != r[j].Size {
				newItems = append(newItems, j)
			}
			i++
			j++
		case 1:
			newItems = append(newItems, j)
			j++
		case -1:
			oldItems = append(oldItems, i)
			i++
		}
	}

	for ; i < len(l); i++ {
		oldItems = append(oldItems, i)
	}
	for ; j < len(r); j++ {
		newItems = append(newItems, j)
	}

	return
}

// Missing returns the entries of r that l lacks or holds with another size.
// Both lists must be sorted by Path.
func (l FileList) Missing(r FileList) FileList {
	newItems, _ := l.Diff(r)
	out := make(FileList, 0, len(newItems))
	for _, idx := range newItems {
		out = append(out, r[idx])
	}
	return out
}
