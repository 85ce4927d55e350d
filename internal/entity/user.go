package entity

// User is the slice of the account record the pipeline needs: who submitted
// a job and where to send the completion email.
type User struct {
	Username string
	Email    string
	FullName string
}

const KindUser = "user"

func UserFromProps(name string, props Props) *User {
	u := &User{Username: name}
	u.Email, _ = props["email"].(string)
	u.FullName, _ = props["full_name"].(string)
	return u
}

func (u *User) ToProps() Props {
	return Props{
		"email":     u.Email,
		"full_name": u.FullName,
	}
}
