package signal

// symbolDenylist は大文字ティッカー正規表現が拾ってしまう一般英単語・
// 略語の拒否リスト。金融記事の文章で頻出する大文字語を中心に選定している。
var symbolDenylist = map[string]struct{}{
	"A": {}, "I": {}, "AN": {}, "AS": {}, "AT": {}, "BE": {}, "BY": {},
	"DO": {}, "GO": {}, "IF": {}, "IN": {}, "IS": {}, "IT": {}, "NO": {},
	"OF": {}, "ON": {}, "OR": {}, "SO": {}, "TO": {}, "UP": {}, "US": {},
	"WE": {},
	"ALL": {}, "AND": {}, "ARE": {}, "BUT": {}, "CAN": {}, "CEO": {},
	"CFO": {}, "CTO": {}, "DID": {}, "EPS": {}, "ETF": {}, "EST": {},
	"FOR": {}, "GDP": {}, "GET": {}, "HAS": {}, "HER": {}, "HIS": {},
	"HOW": {}, "IPO": {}, "ITS": {}, "LLC": {}, "NEW": {}, "NOT": {},
	"NOW": {}, "ONE": {}, "OUT": {}, "PCE": {}, "PMI": {}, "SEC": {},
	"SHE": {}, "THE": {}, "TOP": {}, "TWO": {}, "USA": {}, "USD": {},
	"WAS": {}, "WHO": {}, "WHY": {}, "YOY": {},
	"BANK": {}, "CEOS": {}, "CPI": {}, "DOWN": {}, "FED": {}, "FROM": {},
	"HAVE": {}, "HIGH": {}, "INTO": {}, "JUST": {}, "MORE": {}, "NYSE": {},
	"OVER": {}, "RISE": {}, "SAID": {}, "SAYS": {}, "THAN": {}, "THAT": {},
	"THIS": {}, "WILL": {}, "WITH": {}, "YEAR": {},
	"AFTER": {}, "COULD": {}, "FIRST": {}, "REPORT": {}, "STOCK": {},
	"TODAY": {}, "WEEK": {},
}

// DefaultPositiveWords はセンチメント判定のポジティブ語デフォルト。
func DefaultPositiveWords() []string {
	return []string{
		"surge", "rally", "gain", "jump", "soar", "beat", "record",
		"growth", "profit", "upgrade", "bullish", "strong", "outperform",
		"breakthrough", "exceed", "boom", "rebound", "optimism",
	}
}

// DefaultNegativeWords はセンチメント判定のネガティブ語デフォルト。
func DefaultNegativeWords() []string {
	return []string{
		"plunge", "crash", "drop", "fall", "slump", "miss", "loss",
		"losses", "downgrade", "bearish", "weak", "underperform",
		"bankruptcy", "recession", "layoff", "decline", "selloff", "fear",
		"warning", "tumble",
	}
}

// DefaultKeywordTiers は金融向けキーワード階層の組み込みデフォルト。
// 正確な語彙はチューニング対象であり、環境変数で差し替え可能。
func DefaultKeywordTiers() KeywordTiers {
	return KeywordTiers{
		High: []string{
			"earnings", "fed", "interest rate", "rate cut", "rate hike",
			"inflation", "merger", "acquisition", "bankruptcy", "sec filing",
			"guidance",
		},
		Medium: []string{
			"ipo", "dividend", "buyback", "downgrade", "upgrade",
			"forecast", "revenue", "layoffs", "tariff", "stimulus",
		},
		Low: []string{
			"stock", "market", "shares", "trading", "analyst",
			"quarterly", "investor", "etf", "bond",
		},
	}
}

// DefaultMajorSymbols は高流動性ティッカーの組み込みデフォルト。
// 含まれるシンボルの検出にはサブスコアのボーナスが付く。
func DefaultMajorSymbols() []string {
	return []string{
		"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA",
		"SPY", "QQQ", "JPM", "V", "BRK",
	}
}
