package rerank

import "strings"

// fashionKeywords marks a caption as useful. Generic captioner output
// ("a person standing in a room") carries no keyword and gets ignored.
var fashionKeywords = []string{
	// colors
	"black", "white", "gray", "grey", "brown", "blue", "red", "pink",
	"green", "yellow", "orange", "purple", "beige", "navy", "cream",
	// clothing types
	"sweater", "hoodie", "sweatshirt", "jacket", "coat", "cardigan",
	"pants", "jeans", "trousers", "skirt", "dress", "shirt", "t-shirt",
	"sneakers", "shoes", "boots", "bag", "handbag", "purse", "top", "bottom",
	// materials
	"denim", "leather", "cotton", "wool", "knit",
	// descriptors
	"wearing", "outfit", "clothing", "fashion",
}

// captionColorVariants maps English caption colors to the Korean and English
// variants that show up in product names.
var captionColorVariants = map[string][]string{
	"black":  {"블랙", "black", "검정", "검은"},
	"white":  {"화이트", "white", "흰", "아이보리", "ivory", "크림", "cream"},
	"gray":   {"그레이", "grey", "gray", "회색", "차콜", "charcoal"},
	"brown":  {"브라운", "brown", "갈색", "카멜", "camel", "베이지", "beige", "모카", "mocha"},
	"blue":   {"블루", "blue", "파란", "인디고", "indigo", "네이비", "navy", "데님", "denim", "스카이", "sky"},
	"red":    {"레드", "red", "빨간", "버건디", "burgundy", "와인", "wine"},
	"pink":   {"핑크", "pink", "분홍", "로즈", "rose"},
	"green":  {"그린", "green", "카키", "khaki", "올리브", "olive", "민트", "mint"},
	"yellow": {"옐로우", "yellow", "노란", "머스타드", "mustard"},
	"orange": {"오렌지", "orange", "주황", "코랄", "coral"},
	"purple": {"퍼플", "purple", "보라", "바이올렛", "violet", "라벤더", "lavender"},
}

var captionTypeVariants = map[string][]string{
	"sweater":    {"스웨터", "sweater", "니트", "knit", "맨투맨"},
	"hoodie":     {"후드", "hoodie", "후디", "후드티"},
	"sweatshirt": {"스웨트셔츠", "sweatshirt", "맨투맨", "스웻"},
	"jacket":     {"자켓", "jacket", "재킷", "점퍼", "jumper"},
	"coat":       {"코트", "coat"},
	"cardigan":   {"가디건", "cardigan"},
	"pants":      {"팬츠", "pants", "바지", "슬랙스", "slacks"},
	"jeans":      {"청바지", "jeans", "데님", "denim", "진"},
	"trousers":   {"트라우저", "trousers", "바지"},
	"skirt":      {"스커트", "skirt", "치마"},
	"dress":      {"원피스", "dress", "드레스"},
	"shirt":      {"셔츠", "shirt", "블라우스", "blouse"},
	"t-shirt":    {"티셔츠", "t-shirt", "tee", "티"},
	"sneakers":   {"스니커즈", "sneakers", "운동화", "스니커"},
	"shoes":      {"슈즈", "shoes", "신발", "구두"},
	"boots":      {"부츠", "boots", "부트"},
	"bag":        {"가방", "bag", "백", "토트", "tote", "숄더", "shoulder"},
	"handbag":    {"핸드백", "handbag", "가방", "백"},
	"purse":      {"파우치", "purse", "가방", "백", "핸드백"},
}

var captionStyleVariants = map[string][]string{
	"oversized": {"오버사이즈", "oversized", "오버핏", "루즈핏", "loose"},
	"slim":      {"슬림", "slim", "슬림핏", "스키니", "skinny"},
	"wide":      {"와이드", "wide", "와이드핏", "벌룬", "balloon"},
	"cropped":   {"크롭", "cropped", "크롭트"},
	"long":      {"롱", "long", "롱기장", "맥시", "maxi"},
	"mini":      {"미니", "mini", "숏", "short"},
}

// IsUsefulCaption reports whether a caption mentions at least one recognized
// fashion keyword.
func IsUsefulCaption(caption string) bool {
	if caption == "" {
		return false
	}
	lower := strings.ToLower(caption)
	for _, kw := range fashionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// CaptionSimilarity scores a generated English caption against a (typically
// Korean) product name. Color matches weigh most, then clothing type, then
// style, plus a small word-overlap term. Capped at 1.
func CaptionSimilarity(caption, productName string) float64 {
	if caption == "" || productName == "" {
		return 0
	}
	c := strings.ToLower(caption)
	name := strings.ToLower(productName)

	score := 0.0
	score += variantScore(c, name, captionColorVariants, 0.4)
	score += variantScore(c, name, captionTypeVariants, 0.3)
	score += variantScore(c, name, captionStyleVariants, 0.2)

	captionWords := map[string]bool{}
	for _, w := range strings.Fields(c) {
		captionWords[w] = true
	}
	seen := map[string]bool{}
	for _, w := range strings.Fields(name) {
		if captionWords[w] && !seen[w] {
			score += 0.05
			seen[w] = true
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

func variantScore(caption, name string, table map[string][]string, weight float64) float64 {
	score := 0.0
	for eng, variants := range table {
		if !strings.Contains(caption, eng) {
			continue
		}
		for _, v := range variants {
			if strings.Contains(name, v) {
				score += weight
				break
			}
		}
	}
	return score
}
