package tvg

const scheduleOperation = "getFullScheduleRaces"

const scheduleQuery = `query getFullScheduleRaces($wagerProfile: String, $sortBy: RaceListSort, $filterBy: RaceListFilter, $pagination: Pagination) {
  races(sort: $sortBy, filter: $filterBy, profile: $wagerProfile, page: $pagination) {
    number
    distance
    numRunners
    postTime
    mtp
    isGreyhound
    track {
      code
      name
      featured
      perfAbbr
      location {
        country
        __typename
      }
      __typename
    }
    raceClass {
      id
      name
      __typename
    }
    surface {
      id
      code
      name
      __typename
    }
    video {
      onTvg
      onTvg2
      liveStreaming
      hasReplay
      streams
      replays
      __typename
    }
    __typename
  }
}
`

// browserHeaders are sent with every schedule request; the endpoint rejects
// clients that do not look like the public site.
var browserHeaders = map[string]string{
	"Accept":             "*/*",
	"Accept-Language":    "en-US,en;q=0.5",
	"Content-Type":       "application/json",
	"DNT":                "1",
	"Origin":             "https://www.tvg.com",
	"Referer":            "https://www.tvg.com/",
	"Sec-Ch-Ua":          `"Not/A)Brand";v="99", "Brave";v="115", "Chromium";v="115"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"macOS"`,
	"Sec-Fetch-Dest":     "empty",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Site":     "same-site",
	"Sec-Gpc":            "1",
	"User-Agent":         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
}

type graphQLRequest struct {
	Query         string            `json:"query"`
	Variables     scheduleVariables `json:"variables"`
	OperationName string            `json:"operationName"`
}

type scheduleVariables struct {
	WagerProfile string         `json:"wagerProfile"`
	FilterBy     scheduleFilter `json:"filterBy"`
	SortBy       scheduleSort   `json:"sortBy"`
}

type scheduleFilter struct {
	HasMTP bool `json:"hasMTP"`
	IsOpen bool `json:"isOpen"`
}

type scheduleSort struct {
	ByPostTime string `json:"byPostTime"`
}

func scheduleRequest(wagerProfile string) graphQLRequest {
	return graphQLRequest{
		Query: scheduleQuery,
		Variables: scheduleVariables{
			WagerProfile: wagerProfile,
			FilterBy:     scheduleFilter{HasMTP: true, IsOpen: true},
			SortBy:       scheduleSort{ByPostTime: "ASC"},
		},
		OperationName: scheduleOperation,
	}
}
