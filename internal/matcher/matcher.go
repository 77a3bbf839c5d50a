package matcher

import (
	"math"
	"regexp"
	"strings"
	"time"

	"job-agent-go/internal/constants"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"

	"github.com/agext/levenshtein"
)

// 各匹配信号的权重，加起来等于1.0
const (
	weightCompany  = 0.4
	weightTitle    = 0.3
	weightTemporal = 0.2
	weightLocation = 0.1

	// 地点信号尚无可靠数据源，目前固定给一个中性占位分
	locationPlaceholderScore = 0.3

	// 域名匹配命中时的containment得分略低于名称containment
	domainContainmentScore = 0.8

	// token重叠得分在标题匹配中的折扣
	tokenOverlapWeight = 0.8
)

// 公司名尾部的常见法律后缀，规范化时剥离
var legalSuffixes = []string{
	"incorporated", "corporation", "company",
	"& co", "inc", "corp", "llc", "ltd", "co",
}

var punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizeCompanyName 规范化公司名：小写、去法律后缀、去标点、压缩空白
func NormalizeCompanyName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}

	s = punctuationPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	// 反复剥离尾部后缀，处理 "Acme Co Ltd" 这类叠加情况
	for changed := true; changed; {
		changed = false
		for _, suffix := range legalSuffixes {
			if s == suffix {
				continue
			}
			if strings.HasSuffix(s, " "+suffix) {
				s = strings.TrimSpace(strings.TrimSuffix(s, " "+suffix))
				changed = true
			}
		}
	}

	return s
}

// MatchCompanyName 计算邮件侧公司名与岗位公司名的相似度，返回[0,1]
func MatchCompanyName(emailCompany, jobCompany string) float64 {
	normEmail := NormalizeCompanyName(emailCompany)
	normJob := NormalizeCompanyName(jobCompany)
	if normEmail == "" || normJob == "" {
		return 0
	}

	var score float64
	switch {
	case normEmail == normJob:
		score = 1.0
	case strings.Contains(normEmail, normJob) || strings.Contains(normJob, normEmail):
		score = 0.9
	default:
		score = levenshtein.Similarity(normEmail, normJob, nil)
	}

	// 邮件侧的"公司名"可能是发件地址或域名，额外尝试域名匹配取较大值
	if strings.ContainsAny(emailCompany, "@.") {
		if domainScore := matchByDomain(emailCompany, normJob); domainScore > score {
			score = domainScore
		}
	}

	return score
}

// matchByDomain 从邮件地址或域名中剥离TLD后与规范化公司名做containment匹配
func matchByDomain(raw, normJob string) float64 {
	s := strings.ToLower(strings.TrimSpace(raw))
	if at := strings.LastIndex(s, "@"); at != -1 {
		s = s[at+1:]
	}

	// 逐级剥离域名片段，"us.greenhouse-mail.io" 的每一段都尝试一次
	parts := strings.Split(s, ".")
	best := 0.0
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) < 3 { // 跳过 io/co/com 这类太短的片段
			continue
		}
		// 连字符域名拆开再试，greenhouse-mail -> greenhouse, mail
		for _, token := range strings.Split(part, "-") {
			if len(token) < 3 {
				continue
			}
			if strings.Contains(token, normJob) || strings.Contains(normJob, token) {
				if domainContainmentScore > best {
					best = domainContainmentScore
				}
			}
		}
	}
	return best
}

// MatchJobTitle 计算邮件侧职位名与岗位标题的相似度，返回[0,1]
func MatchJobTitle(emailTitle, jobTitle string) float64 {
	normEmail := strings.ToLower(strings.TrimSpace(emailTitle))
	normJob := strings.ToLower(strings.TrimSpace(jobTitle))
	if normEmail == "" || normJob == "" {
		return 0
	}

	if normEmail == normJob {
		return 1.0
	}
	if strings.Contains(normEmail, normJob) || strings.Contains(normJob, normEmail) {
		return 0.9
	}

	similarity := levenshtein.Similarity(normEmail, normJob, nil)
	overlap := jaccardTokenOverlap(normEmail, normJob) * tokenOverlapWeight
	return math.Max(similarity, overlap)
}

// jaccardTokenOverlap 按空白切词后计算Jaccard重叠度
func jaccardTokenOverlap(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	intersection := 0
	for token := range tokensA {
		if _, ok := tokensB[token]; ok {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(punctuationPattern.ReplaceAllString(s, " ")) {
		set[token] = struct{}{}
	}
	return set
}

// TemporalProximity 按岗位创建时间与邮件接收时间的天数差分桶打分
func TemporalProximity(jobCreatedAt, emailReceivedAt time.Time) float64 {
	days := math.Abs(emailReceivedAt.Sub(jobCreatedAt).Hours() / 24)
	switch {
	case days <= 1:
		return 1.0
	case days <= 7:
		return 0.9
	case days <= 30:
		return 0.7
	case days <= 90:
		return 0.5
	default:
		return 0.2
	}
}

// ScoreCandidate 对单个申请候选计算加权匹配分
func ScoreCandidate(app *models.JobApplication, emailCompany, emailTitle string, emailReceivedAt time.Time) types.MatchCandidate {
	candidate := types.MatchCandidate{
		ApplicationID: app.ApplicationID,
		JobID:         app.JobID,
		LocationScore: locationPlaceholderScore,
	}

	if app.Job == nil {
		return candidate
	}

	candidate.CompanyScore = MatchCompanyName(emailCompany, app.Job.Company)
	candidate.TitleScore = MatchJobTitle(emailTitle, app.Job.Title)
	candidate.TemporalScore = TemporalProximity(app.Job.CreatedAt, emailReceivedAt)

	// 邮件里没有公司名时不做任何匹配
	if strings.TrimSpace(emailCompany) == "" {
		return candidate
	}

	score := candidate.CompanyScore*weightCompany +
		candidate.TitleScore*weightTitle +
		candidate.TemporalScore*weightTemporal +
		candidate.LocationScore*weightLocation
	candidate.Score = math.Min(score, 1.0)
	return candidate
}

// FindBestMatch 在候选申请中寻找匹配分最高且达到下限的那一个。
// 所有候选都低于下限时返回nil；同分时保留先出现的候选。
func FindBestMatch(candidates []models.JobApplication, emailCompany, emailTitle string, emailReceivedAt time.Time) *types.MatchCandidate {
	var best *types.MatchCandidate
	for i := range candidates {
		candidate := ScoreCandidate(&candidates[i], emailCompany, emailTitle, emailReceivedAt)
		if best == nil || candidate.Score > best.Score {
			c := candidate
			best = &c
		}
	}
	if best == nil || best.Score < constants.MinMatchScore {
		return nil
	}
	return best
}

// ShouldAutoUpdateStatus 判断匹配分是否高到可以免人工确认直接流转状态
func ShouldAutoUpdateStatus(score float64) bool {
	return score >= constants.AutoUpdateMatchScore
}

// statusByCategory 邮件类别到申请状态的有限映射，未列出的类别不触发流转
var statusByCategory = map[types.EmailCategory]string{
	types.CategoryApplicationConfirmation: models.ApplicationStatusApplied,
	types.CategoryApplicationRejection:    models.ApplicationStatusRejected,
	types.CategoryInterviewInvitation:     models.ApplicationStatusInterviewed,
	types.CategoryOfferLetter:             models.ApplicationStatusHired,
}

// StatusForEmailType 返回邮件类别对应的目标申请状态
func StatusForEmailType(category types.EmailCategory) (string, bool) {
	status, ok := statusByCategory[category]
	return status, ok
}
