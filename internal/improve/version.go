package improve

import (
	"fmt"
	"strconv"
	"strings"
)

// NextVersion derives the version of the i-th candidate (0-based) generated from base.
//
//	1.2.3 -> 1.3.<i>
//	v7    -> v<8+i>
//	beta  -> beta-candidate-<i+1>
func NextVersion(base string, i int) string {
	if parts := strings.Split(base, "."); len(parts) == 3 {
		nums := make([]int, 3)
		ok := true
		for j, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 {
				ok = false
				break
			}
			nums[j] = n
		}
		if ok {
			return fmt.Sprintf("%d.%d.%d", nums[0], nums[1]+1, i)
		}
	}

	if n, err := strconv.Atoi(strings.TrimPrefix(base, "v")); err == nil {
		return fmt.Sprintf("v%d", n+i+1)
	}
	return fmt.Sprintf("%s-candidate-%d", base, i+1)
}
