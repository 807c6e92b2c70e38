package store

// ItemsPerPage is the fixed storefront page size.
const ItemsPerPage = 3

type Page struct {
	Items           interface{} `json:"items"`
	Total           int64       `json:"total"`
	CurrentPage     int         `json:"current_page"`
	PageSize        int         `json:"page_size"`
	HasNextPage     bool        `json:"has_next_page"`
	HasPreviousPage bool        `json:"has_previous_page"`
	NextPage        int         `json:"next_page"`
	PreviousPage    int         `json:"previous_page"`
	LastPage        int         `json:"last_page"`
}

func NewPage(items interface{}, total int64, page, pageSize int) *Page {
	lastPage := int(total) / pageSize
	if int(total)%pageSize > 0 {
		lastPage++
	}
	if lastPage < 1 {
		lastPage = 1
	}

	return &Page{
		Items:           items,
		Total:           total,
		CurrentPage:     page,
		PageSize:        pageSize,
		HasNextPage:     int64(page*pageSize) < total,
		HasPreviousPage: page > 1,
		NextPage:        page + 1,
		PreviousPage:    page - 1,
		LastPage:        lastPage,
	}
}
