package categorize

import "regexp"

// Category names. These are stable identifiers: they appear in stored email
// rows, override artifacts, and API responses.
const (
	Immigration = "Immigration"
	Taxes       = "Taxes"
	Health      = "Health & Insurance"
	Jobs        = "Jobs & Recruitment"
	Investments = "Investments"
	Money       = "Money"
	Travel      = "Travel"
	Shopping    = "Shopping & Orders"
	AITech      = "AI & Tech"
	Government  = "Government & Services"
	Security    = "Security & Accounts"
	Newsletters = "Newsletters"
	Personal    = "Personal"
	Other       = "Other"

	// Noise marks senders or subjects the user wants out of analytics.
	// It is assignable like a category but excluded from built-in rules.
	Noise = "Noise"
)

// BuiltinCategories is the ordered set used by rules and analytics.
var BuiltinCategories = []string{
	Immigration, Taxes, Health, Jobs, Investments, Money,
	Travel, Shopping, AITech, Government, Security, Newsletters, Personal, Other,
}

type rule struct {
	category string
	sender   *regexp.Regexp
	subject  *regexp.Regexp
	labels   *regexp.Regexp
}

// reI compiles a case-insensitive pattern for sender/subject matching.
func reI(pat string) *regexp.Regexp { return regexp.MustCompile(`(?i)` + pat) }

// reL compiles a label pattern. Label matching is case-sensitive: Gmail
// label ids are exact strings.
func reL(pat string) *regexp.Regexp { return regexp.MustCompile(pat) }

// rules fire on the first match, highest priority first. Within a rule, any
// provided pattern (sender, subject, labels) is sufficient.
var rules = []rule{
	{
		category: Immigration,
		sender:   reI(`uscis\.gov|dol\.gov|cbp\.dhs\.gov|nvc\.dos\.gov|immigration.*(attorney|law|consult)`),
		subject:  reI(`\buscis\b|i-?485|i-?797|i-?140|i-?765|i-?131|green card|\bopt\b|h-?1b|employment authorization|labor certif|visa (status|application|approval|interview)|priority date|\bperm\b|national visa center`),
		labels:   reL(`\|Immigration\|`),
	},
	{
		category: Taxes,
		sender:   reI(`irs\.gov|turbotax\.com|hrblock\.com|taxact\.com|freetaxusa\.com|taxslayer\.com`),
		subject:  reI(`w-?2\b|1099-?\w*|\btaxe?s?\b.*(return|refund|document|form|filing|season|software|prep)|\birs\b.*\btax\b|estimated tax payment`),
	},
	{
		category: Health,
		sender:   reI(`cigna|aetna|bluecross|bcbs|anthem|unitedhealthcare|optum|cvs\.com|cvshealth|walgreens\.com|riteaid|kaiser|humana|express.?scripts|quest.?diagnostics|labcorp|mychart|healthequity|hsabank`),
		subject:  reI(`health insurance|medical (claim|bill|statement)|dental (plan|coverage|claim)|prescription|pharmacy (order|ship)|eob|explanation of benefit|deductible|copay|health (plan|coverage)|appointment (reminder|confirmation)|lab result|\bhsa\b|\bfsa\b`),
	},
	{
		category: Jobs,
		sender:   reI(`linkedin\.com.*(job|career|alert)|glassdoor\.com|indeed\.com|dice\.com|ziprecruiter|greenhouse\.io|lever\.co|lensa\.ai|hired\.com|jobvite`),
		subject:  reI(`job alert|new jobs? matching|we.re hiring|open position|career opport|job application (received|submitted)|interview (invitation|request|scheduled)|apply.*role|your application to|new jobs? for you`),
		labels:   reL(`\|Jobs\|`),
	},
	{
		category: Investments,
		sender:   reI(`robinhood\.com|fidelity\.com|vanguard\.com|schwab\.com|etrade\.com|tdameritrade|webull|coinbase|binance|zerodha|groww\.in|upstox\.com|kuvera|smallcase|coin.?switch`),
		subject:  reI(`portfolio (update|statement|summary)|dividend (payment|received)|stock (alert|activity)|trade (confirmation|executed)|investment (statement|summary)|brokerage statement|capital (gain|loss)|mutual fund|sip (investment|confirmation)`),
		labels:   reL(`\|Robinhood\||\|Indian Investments\|`),
	},
	{
		category: Money,
		sender:   reI(`wellsfargo|chase\.com|bankofamerica|citibank|sofi\.com|nerdwallet|americanexpress|amex\.com|paypal|venmo|zelle|capitalone\.com|ally\.com|discover\.com|synchrony`),
		subject:  reI(`bank (statement|alert|notification)|account (balance|statement|alert)|credit card (statement|payment|alert)|transaction (alert|notification)|wire transfer|ach (transfer|payment)|overdraft|credit score|loan (payment|statement)|mortgage (payment|statement)|rent (reminder|payment|receipt|invoice)|lease (renewal|agreement|expir)`),
		labels:   reL(`\|Expenses/|\|Payments\||Label_1855894895900833747|Label_4999382456449891088|Label_5867791300677796251|Label_9052786769120093422`),
	},
	{
		category: Travel,
		sender:   reI(`delta\.com|united\.com|southwest\.com|americanair|alaskaair|jetblue|lufthansa|emirates|airbnb\.com|vrbo|hotels\.com|booking\.com|expedia|kayak|hopper|travelocity|priceline|hertz|enterprise.*rent|avis\.com|tripadvisor`),
		subject:  reI(`flight (confirmation|itinerary|check-in|booking|receipt)|hotel (confirmation|booking|reservation)|boarding pass|check-in (open|reminder)|trip (confirmation|summary|itinerary)|car rental confirmation|your (flight|booking|reservation) (confirm|itinerary)`),
	},
	{
		category: Shopping,
		sender:   reI(`amazon\.com|ebay\.com|target\.com|walmart\.com|kohls|costco|bestbuy|newegg\.com|etsy\.com|wayfair|overstock|nordstrom|macys|oldnavy|hm\.com|zara\.com|uniqlo|nike\.com|adidas|sunglass.hut|chewy\.com|doordash|ubereats|grubhub|instacart|postmates|hellofresh`),
		subject:  reI(`order (confirm|shipped|delivered|dispatch|receip|placed)|your (order|shipment|package|delivery).*confirm|has (shipped|been delivered)|delivery (confirm|notification|update)|tracking (number|update)|package (delivered|out for delivery)|(thank you|thanks) for (your order|your purchase)|receipt for your (order|purchase)|purchase confirm|invoice #\d`),
	},
	{
		category: AITech,
		sender:   reI(`openai\.com|chatgpt|anthropic|deepmind|huggingface|tldr\.tech|tldrnewsletter|bytebytego|alphasignal|therundown\.ai|bensbites|techcrunch|theverge|ycombinator`),
		subject:  reI(`\bai\b.*(news|weekly|digest|roundup|update|newsletter|brief|research)|machine learning|deep learning|\bllm\b|neural network|tech (news|digest|weekly|newsletter)|developer (digest|weekly)|engineering (digest|weekly)`),
		labels:   reL(`\|ML News\|`),
	},
	{
		category: Government,
		sender:   reI(`usps\.com|informeddelivery|\.gov\b|ssa\.gov|medicare\.gov`),
		subject:  reI(`informed delivery|mail.*arriving|social security|medicare|medicaid|jury (duty|summons)|passport (renewal|application)|dmv (renewal|appointment)`),
	},
	{
		category: Security,
		subject:  reI(`verify (your|the) (email|account|identity|phone|number)|password (reset|changed|recovery|update|expir)|login (attempt|alert|from new device)|security (alert|code|verification|warning)|two.?factor authentication|\b2fa\b|authentication code|sign.?in (attempt|alert)|unusual (activity|sign.?in)|account (locked|suspended|compromised|verification)|suspicious (activity|login|access)`),
	},
	{
		category: Newsletters,
		sender:   reI(`newsletter|substack\.com|coursera\.org|udemy\.com|edx\.org|pluralsight|skillshare|udacity|khanacademy|masterclass|duolingo|brilliant\.org|twitch\.tv|netflix\.com|spotify\.com|hulu\.com|disneyplus|hbomax|peacock|primevideo|steam|epicgames|playstation|xbox|nintendo|discord\.com|linkedin\.com|facebook\.com|twitter\.com|x\.com|instagram\.com|nextdoor\.com|reddit\.com|pinterest|tiktok|snapchat`),
		subject:  reI(`(weekly|daily|monthly) (digest|newsletter|roundup|brief|edition)|issue #\d|vol\.?\s*\d+|course (enroll|complet|certif|progress|purchased)|certificate (earned|available)|learning (path|progress)|new (episode|season|release)|game (pass|available)|commented on your|replied to your|mentioned you|tagged you in|new follower|new connection|\d+% off|buy one get|(flash|lightning|daily) (sale|deal)|exclusive (offer|deal|discount)|limited time offer|clearance sale`),
		labels:   reL(`\|Online Courses\||\|Twitch\||\|CATEGORY_SOCIAL\||\|CATEGORY_PROMOTIONS\|`),
	},
	{
		category: Personal,
		labels:   reL(`\|CATEGORY_PERSONAL\|`),
	},
}
