package clients

type Repo interface {
	Upsert(client *Client) error
	Get(clientID string) (*Client, error)
	Delete(clientID string) error
	List(offset, limit int) ([]*Client, error)
}
