package linear

// GraphQL documents. Each list query is cursor-paginated and requests only the
// fields the data model needs.

const issueFields = `
    id
    identifier
    title
    description
    estimate
    priority
    createdAt
    updatedAt
    startedAt
    completedAt
    canceledAt
    team { key }
    state { name type }
    assignee { id name avatarUrl }
    parent { id }
    project { id }
    labels { nodes { name } }
    comments(first: 50, orderBy: updatedAt) { nodes { createdAt } }
`

const queryIssues = `
query Issues($first: Int!, $after: String, $filter: IssueFilter) {
  issues(first: $first, after: $after, filter: $filter) {
    nodes {` + issueFields + `}
    pageInfo { hasNextPage endCursor }
  }
}`

const projectFields = `
    id
    name
    state
    status { name }
    health
    description
    content
    targetDate
    projectedCompletionAt
    startedAt
    updatedAt
    lead { id name avatarUrl }
    projectUpdates(first: 10) {
      nodes { body health createdAt user { id name avatarUrl } }
    }
`

const queryProject = `
query Project($id: String!) {
  project(id: $id) {` + projectFields + `}
}`

const queryProjects = `
query Projects($first: Int!, $after: String, $filter: ProjectFilter) {
  projects(first: $first, after: $after, filter: $filter) {
    nodes {` + projectFields + `}
    pageInfo { hasNextPage endCursor }
  }
}`

const queryProjectIssues = `
query ProjectIssues($id: String!, $first: Int!, $after: String) {
  project(id: $id) {
    issues(first: $first, after: $after) {
      nodes {` + issueFields + `}
      pageInfo { hasNextPage endCursor }
    }
  }
}`

const queryInitiatives = `
query Initiatives($first: Int!, $after: String) {
  initiatives(first: $first, after: $after) {
    nodes {
      id
      name
      description
      content
      status
      targetDate
      startedAt
      completedAt
      archivedAt
      health
      healthUpdatedAt
      updatedAt
      owner { id name avatarUrl }
      projects(first: 50) { nodes { id } pageInfo { hasNextPage endCursor } }
    }
    pageInfo { hasNextPage endCursor }
  }
}`
