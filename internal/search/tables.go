package search

import "strings"

// relatedCategories groups catalog categories that retrieve together. The
// catalog does not distinguish every category the detector emits, so some
// buckets fold into a neighbor.
var relatedCategories = map[string][]string{
	"top":    {"top"},
	"outer":  {"outer"},
	"pants":  {"pants"},
	"bottom": {"pants"},
	"dress":  {"dress"},
	"skirt":  {"dress"},
	"shoes":  {"shoes"},
	"bag":    {"bag"},
	"hat":    {"hat"},
}

// categoryCanonical maps detector categories onto index categories before any
// strategy runs.
var categoryCanonical = map[string]string{
	"bottom":    "pants",
	"outerwear": "outer",
}

// conflictingColors lists color names that co-occur in noisy catalog text and
// produce false positives, e.g. "black/white" colorway listings matching a
// black query.
var conflictingColors = map[string][]string{
	"black":     {"화이트", "white", "흰"},
	"white":     {"블랙", "black", "검정"},
	"navy":      {"화이트", "white"},
	"navy blue": {"화이트", "white"},
	"blue":      {"레드", "red", "핑크", "pink"},
	"red":       {"블루", "blue", "그린", "green"},
}

// colorKeywords expands an extracted color name into the Korean and English
// variants that appear in product names.
var colorKeywords = map[string][]string{
	"black":      {"블랙", "black", "검정", "검은"},
	"white":      {"화이트", "white", "흰", "백색", "아이보리", "ivory"},
	"navy":       {"네이비", "navy", "남색"},
	"navy blue":  {"네이비", "navy", "남색", "인디고", "indigo", "블루", "blue", "로얄", "royal"},
	"blue":       {"블루", "blue", "파랑", "파란"},
	"red":        {"레드", "red", "빨강", "빨간"},
	"green":      {"그린", "green", "녹색", "초록"},
	"yellow":     {"옐로우", "yellow", "노랑", "노란"},
	"pink":       {"핑크", "pink", "분홍"},
	"orange":     {"오렌지", "orange", "주황"},
	"purple":     {"퍼플", "purple", "보라"},
	"brown":      {"브라운", "brown", "갈색"},
	"gray":       {"그레이", "gray", "grey", "회색"},
	"grey":       {"그레이", "gray", "grey", "회색"},
	"beige":      {"베이지", "beige", "크림", "cream"},
	"khaki":      {"카키", "khaki", "올리브", "olive"},
	"dark brown": {"다크브라운", "dark brown", "진갈색", "브라운"},
	"light blue": {"라이트블루", "light blue", "스카이", "sky", "연청"},
}

type itemTypeConfig struct {
	include []string
	exclude []string
}

// itemTypeKeywords maps an extracted item type to product-name keywords that
// must not appear. Catalog names often mention the silhouette, so excluding
// near-miss types (slides vs sneakers) beats positive matching.
var itemTypeKeywords = map[string]itemTypeConfig{
	"sneakers": {
		include: []string{"스니커즈", "sneaker", "운동화"},
		exclude: []string{"슬리퍼", "슬라이드", "slide", "샌들", "sandal", "로퍼", "loafer",
			"아딜렛", "adilette", "뮬", "mule", "클로그", "clog", "슈퍼노바",
			"아디폼", "adiform", "아디케인", "adikane"},
	},
	"shoes": {
		include: []string{"스니커즈", "sneaker", "운동화"},
		exclude: []string{"슬리퍼", "슬라이드", "slide", "샌들", "sandal", "로퍼", "loafer",
			"아딜렛", "adilette", "뮬", "mule", "클로그", "clog", "슈퍼노바",
			"아디폼", "adiform", "아디케인", "adikane"},
	},
	"slides": {
		include: []string{"슬라이드", "slide", "슬리퍼"},
		exclude: []string{"스니커즈", "sneaker", "운동화", "부츠"},
	},
	"boots": {
		include: []string{"부츠", "boots", "워커"},
		exclude: []string{"스니커즈", "슬리퍼", "샌들"},
	},
	"loafers": {
		include: []string{"로퍼", "loafer"},
		exclude: []string{"스니커즈", "슬리퍼", "부츠"},
	},
	"track jacket": {
		include: []string{"트랙", "track", "져지", "jersey"},
		exclude: []string{"셔츠", "티셔츠"},
	},
	"jacket": {
		include: []string{"자켓", "jacket", "트랙", "track"},
		exclude: []string{"셔츠", "티셔츠", "팬츠", "pants"},
	},
	"hoodie": {
		include: []string{"후드", "hoodie", "후디"},
		exclude: []string{"셔츠", "자켓"},
	},
}

// CanonicalCategory maps a detector category to its index-side name.
func CanonicalCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if mapped, ok := categoryCanonical[c]; ok {
		return mapped
	}
	return c
}

// RelatedCategories returns the retrieval bucket for a category. Unknown
// categories match only themselves.
func RelatedCategories(category string) []string {
	if rel, ok := relatedCategories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return rel
	}
	return []string{category}
}

func ConflictingColors(color string) []string {
	if color == "" {
		return nil
	}
	return conflictingColors[strings.ToLower(color)]
}

// ColorKeywords returns search variants for a color; unknown colors fall back
// to the literal name.
func ColorKeywords(color string) []string {
	if color == "" {
		return nil
	}
	if kws, ok := colorKeywords[strings.ToLower(color)]; ok {
		return kws
	}
	return []string{color}
}

func itemTypeExclusions(itemType string) []string {
	if itemType == "" {
		return nil
	}
	return itemTypeKeywords[strings.ToLower(itemType)].exclude
}

func categoryInSet(category string, related []string) bool {
	for _, r := range related {
		if category == r {
			return true
		}
	}
	return false
}
