package tablecache

import (
	"regexp"
	"strconv"
)

var (
	attrRegexp = regexp.MustCompile(`(@cache-skip|@cache-max-rows)(?: (\d+))?`)
)

// attributes are per statement overrides given in SQL comments:
//
//	-- @cache-max-rows 10
//	-- @cache-skip
type attributes struct {
	skip    bool
	maxRows int
}

func getAttrs(query string, maxRows int) attributes {
	attrs := attributes{maxRows: maxRows}

	for _, match := range attrRegexp.FindAllStringSubmatch(query, 2) {
		switch match[1] {
		case "@cache-skip":
			attrs.skip = true
		case "@cache-max-rows":
			if n, err := strconv.Atoi(match[2]); err == nil {
				attrs.maxRows = n
			}
		}
	}

	return attrs
}
